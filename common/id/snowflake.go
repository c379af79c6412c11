package id

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node. Each running server or worker process
// needs its own node id (NODE_ID) so draft and item ids never collide.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	if err != nil {
		return fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return nil
}

// New generates a new globally unique, time-ordered int64 ID.
// Init must have been called.
func New() int64 {
	if node == nil {
		panic("id.New called before id.Init")
	}
	return node.Generate().Int64()
}

// Time returns the creation time encoded in an id produced by New.
func Time(id int64) time.Time {
	return time.UnixMilli(snowflake.ID(id).Time())
}
