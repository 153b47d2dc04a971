package ident

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// Generator issues sale record ids from a snowflake node keyed by the
// register index. Snowflake ids are time-ordered and unique without any
// coordination, which is exactly what an offline register needs: ids minted
// during a partition still sort into the queue in recording order and double
// as idempotency keys on replay.
type Generator struct {
	node *snowflake.Node
}

func NewGenerator(registerIndex int64) (*Generator, error) {
	node, err := snowflake.NewNode(registerIndex % 1024)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}
	return &Generator{node: node}, nil
}

func (g *Generator) SaleID() string {
	return g.node.Generate().String()
}

// SessionID returns a fresh register-session id.
func SessionID() string {
	return "sess-" + uuid.NewString()
}
