package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"pillar.vc/assistant/common/logger"
)

var _ = Describe("LogFields", func() {
	It("merges newer fields over older ones", func() {
		ctx := logger.WithLogFields(context.Background(), logger.LogFields{
			ChannelID: logger.Ptr("C1"),
			Component: "pillar.worker",
		})
		ctx = logger.WithLogFields(ctx, logger.LogFields{
			UserID:    logger.Ptr("U1"),
			Component: "pillar.agenda.manager",
		})

		fields := logger.GetLogFields(ctx)
		Expect(*fields.ChannelID).To(Equal("C1"))
		Expect(*fields.UserID).To(Equal("U1"))
		Expect(fields.Component).To(Equal("pillar.agenda.manager"))
	})

	It("returns empty fields for a bare context", func() {
		Expect(logger.GetLogFields(context.Background())).To(Equal(logger.LogFields{}))
	})
})

var _ = Describe("TraceHandler", func() {
	It("adds context fields to every record", func() {
		var buf bytes.Buffer
		log := slog.New(logger.NewTraceHandler(slog.NewJSONHandler(&buf, nil)))

		ctx := logger.WithLogFields(context.Background(), logger.LogFields{
			ChannelID: logger.Ptr("C42"),
			Intent:    logger.Ptr("catchup"),
			DraftID:   logger.Ptr(int64(7)),
		})
		log.InfoContext(ctx, "handled")

		var record map[string]any
		Expect(json.Unmarshal(buf.Bytes(), &record)).To(Succeed())
		Expect(record).To(HaveKeyWithValue("channel_id", "C42"))
		Expect(record).To(HaveKeyWithValue("intent", "catchup"))
		Expect(record).To(HaveKeyWithValue("draft_id", BeNumerically("==", 7)))
		Expect(record).NotTo(HaveKey("user_id"))
	})
})

var _ = Describe("Truncate", func() {
	It("keeps short strings", func() {
		Expect(logger.Truncate("short", 10)).To(Equal("short"))
	})

	It("cuts long strings", func() {
		Expect(logger.Truncate("abcdefghij", 4)).To(Equal("abcd..."))
	})
})
