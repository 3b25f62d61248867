package world

import (
	"errors"
	"fmt"
	"time"

	"github.com/cfoust/snek/pkg/geom"
)

var ErrInvalidConfig = errors.New("invalid game config")

// GameConfig is fixed for the lifetime of a game.
type GameConfig struct {
	Width         int32   `cbor:"1,keyasint" json:"width" yaml:"width"`
	Height        int32   `cbor:"2,keyasint" json:"height" yaml:"height"`
	FoodStatic    int32   `cbor:"3,keyasint" json:"foodStatic" yaml:"foodStatic"`
	FoodPerPlayer float32 `cbor:"4,keyasint" json:"foodPerPlayer" yaml:"foodPerPlayer"`
	StateDelayMs  int32   `cbor:"5,keyasint" json:"stateDelayMs" yaml:"stateDelayMs"`
	DeadFoodProb  float32 `cbor:"6,keyasint" json:"deadFoodProb" yaml:"deadFoodProb"`
	PingDelayMs   int32   `cbor:"7,keyasint" json:"pingDelayMs" yaml:"pingDelayMs"`
	NodeTimeoutMs int32   `cbor:"8,keyasint" json:"nodeTimeoutMs" yaml:"nodeTimeoutMs"`
}

func DefaultConfig() GameConfig {
	return GameConfig{
		Width:         40,
		Height:        30,
		FoodStatic:    1,
		FoodPerPlayer: 1,
		StateDelayMs:  1000,
		DeadFoodProb:  0.1,
		PingDelayMs:   100,
		NodeTimeoutMs: 800,
	}
}

func checkRange[T int32 | float32](name string, v, lo, hi T) error {
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s must be in [%v, %v], got %v", ErrInvalidConfig, name, lo, hi, v)
	}
	return nil
}

func (c GameConfig) Validate() error {
	checks := []error{
		checkRange("width", c.Width, 10, 100),
		checkRange("height", c.Height, 10, 100),
		checkRange("foodStatic", c.FoodStatic, 0, 100),
		checkRange[float32]("foodPerPlayer", c.FoodPerPlayer, 0, 100),
		checkRange("stateDelayMs", c.StateDelayMs, 1, 10000),
		checkRange[float32]("deadFoodProb", c.DeadFoodProb, 0, 1),
		checkRange("pingDelayMs", c.PingDelayMs, 1, 10000),
		checkRange("nodeTimeoutMs", c.NodeTimeoutMs, 1, 10000),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}

	if c.PingDelayMs >= c.NodeTimeoutMs {
		return fmt.Errorf("%w: pingDelayMs must be below nodeTimeoutMs", ErrInvalidConfig)
	}

	return nil
}

func (c GameConfig) Torus() geom.Torus {
	return geom.Torus{Width: c.Width, Height: c.Height}
}

func (c GameConfig) TickInterval() time.Duration {
	return time.Duration(c.StateDelayMs) * time.Millisecond
}

func (c GameConfig) PingInterval() time.Duration {
	return time.Duration(c.PingDelayMs) * time.Millisecond
}

func (c GameConfig) PeerTimeout() time.Duration {
	return time.Duration(c.NodeTimeoutMs) * time.Millisecond
}
