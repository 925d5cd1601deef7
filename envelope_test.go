package chainlog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildEnvelope_MergesBoundContextThenExtras(t *testing.T) {
	env := BuildEnvelope(EnvelopeInput{
		Level:        LevelInfo,
		Message:      "hello",
		Logger:       "root",
		BoundContext: map[string]any{"a": 1, "b": 1},
		Extras:       []Field{F("b", 2)},
	})

	require.Equal(t, 1, env.Metadata["a"])
	require.Equal(t, 2, env.Metadata["b"], "extras must win over bound context")
	require.NotEmpty(t, env.CorrelationID)
}

func TestBuildEnvelope_GeneratesCorrelationIDWhenAbsent(t *testing.T) {
	e1 := BuildEnvelope(EnvelopeInput{Level: LevelInfo, Message: "m"})
	e2 := BuildEnvelope(EnvelopeInput{Level: LevelInfo, Message: "m"})
	require.NotEmpty(t, e1.CorrelationID)
	require.NotEqual(t, e1.CorrelationID, e2.CorrelationID)
}

func TestBuildEnvelope_PreservesGivenCorrelationID(t *testing.T) {
	env := BuildEnvelope(EnvelopeInput{Level: LevelInfo, Message: "m", CorrelationID: "fixed-id"})
	require.Equal(t, "fixed-id", env.CorrelationID)
}

func TestBuildEnvelope_DropsReservedMetadataKeys(t *testing.T) {
	env := BuildEnvelope(EnvelopeInput{
		Level:        LevelInfo,
		Message:      "m",
		BoundContext: map[string]any{"integrity": "smuggled"},
		Extras:       []Field{F("integrity", "also smuggled")},
	})
	_, present := env.Metadata["integrity"]
	require.False(t, present)
}

func TestBuildEnvelope_ExceptionFieldsAttachedWhenEnabled(t *testing.T) {
	env := BuildEnvelope(EnvelopeInput{
		Level:                   LevelError,
		Message:                 "boom",
		Err:                     errors.New("kaboom"),
		ExceptionsEnabled:       true,
		ExceptionsMaxFrames:     4,
		ExceptionsMaxStackChars: 2048,
	})
	require.Equal(t, "kaboom", env.Metadata["error.message"])
	require.NotEmpty(t, env.Metadata["error.type"])
	require.NotEmpty(t, env.Metadata["error.frames"])
}

func TestBuildEnvelope_ExceptionFieldsAbsentWhenDisabled(t *testing.T) {
	env := BuildEnvelope(EnvelopeInput{
		Level:             LevelError,
		Message:           "boom",
		Err:               errors.New("kaboom"),
		ExceptionsEnabled: false,
	})
	_, present := env.Metadata["error.message"]
	require.False(t, present)
}
