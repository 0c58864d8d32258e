package node

import (
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/spacemeshos/poe/registry"
)

type Genesis time.Time

// UnmarshalFlag implements flags.Unmarshaler.
func (g *Genesis) UnmarshalFlag(value string) error {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return err
	}
	*g = Genesis(t)
	return nil
}

func (g Genesis) Time() time.Time {
	return time.Time(g)
}

// Timeline maps wall clock time to block numbers.
// With a zero BlockTime every included transaction opens a new block.
type Timeline struct {
	Genesis   Genesis       `long:"genesis-time" description:"Genesis timestamp in RFC3339 format"`
	BlockTime time.Duration `long:"block-time"   description:"Duration of one block, 0 to give every transaction its own block"`
}

// Next returns the block of a transaction included at now after a
// transaction included in block last. Blocks never go backwards.
func (t Timeline) Next(last registry.BlockNumber, now time.Time) registry.BlockNumber {
	if t.BlockTime <= 0 {
		return last + 1
	}
	sinceGenesis := now.Sub(t.Genesis.Time())
	if sinceGenesis < 0 {
		return last
	}
	return max(last, registry.BlockNumber(sinceGenesis/t.BlockTime))
}

// implement zap.ObjectMarshaler interface.
func (t Timeline) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddTime("genesis", t.Genesis.Time())
	enc.AddDuration("block-time", t.BlockTime)
	return nil
}
