package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSetup_JSON(t *testing.T) {
	var buf bytes.Buffer

	logger, err := setup(&buf, false, "")
	require.NoError(t, err)
	require.Equal(t, zerolog.InfoLevel, logger.GetLevel())

	logger.Debug().Msg("hidden")
	logger.Info().Str("document", "current.html").Msg("visible")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "visible", line["message"])
	require.Equal(t, "current.html", line["document"])
}

func TestSetup_DevDefaultsToDebug(t *testing.T) {
	var buf bytes.Buffer

	logger, err := setup(&buf, true, "")
	require.NoError(t, err)
	require.Equal(t, zerolog.DebugLevel, logger.GetLevel())

	logger.Debug().Msg("console")
	require.Contains(t, buf.String(), "console")
}

func TestSetup_Level(t *testing.T) {
	logger, err := setup(&bytes.Buffer{}, true, "warn")
	require.NoError(t, err)
	require.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	_, err = setup(&bytes.Buffer{}, false, "loud")
	require.Error(t, err)
}
