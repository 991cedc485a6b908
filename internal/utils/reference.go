package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ReferenceGenerator issues unique, time ordered references for ledger records
type ReferenceGenerator struct {
	node *snowflake.Node
}

// NewReferenceGenerator creates a generator for this process. nodeID must be
// unique per running instance (0-1023).
func NewReferenceGenerator(nodeID int64) (*ReferenceGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node: %w", err)
	}
	return &ReferenceGenerator{node: node}, nil
}

// Generate returns PREFIX_YYYYMMDD_ID
func (g *ReferenceGenerator) Generate(prefix string) string {
	timestamp := time.Now().UTC().Format("20060102")
	return strings.ToUpper(fmt.Sprintf("%s_%s_%s", prefix, timestamp, g.node.Generate().Base36()))
}
