package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"pillar.vc/assistant/tools/linters/enumvalidator"
)

func main() {
	singlechecker.Main(enumvalidator.Analyzer)
}
