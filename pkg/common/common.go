package common

import (
	"math/rand"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	ENABLED  = "enabled"
	DISABLED = "disabled"
)

var snowflakeNode *snowflake.Node

func init() {
	rand.Seed(time.Now().UnixNano())
	var err error
	snowflakeNode, err = snowflake.NewNode(int64(rand.Intn(1023) + 1))
	if err != nil {
		panic(err)
	}
}

// UUIDint64 returns a snowflake int64 id.
func UUIDint64() int64 {
	return snowflakeNode.Generate().Int64()
}

// UUID returns a snowflake id in base58 string form.
func UUID() string {
	return snowflakeNode.Generate().Base58()
}
