package postgres

import (
	"testing"

	"github.com/Avi18971911/Haruspex/internal/escalation/model"
	"github.com/stretchr/testify/assert"
)

func TestEncodeLayers(t *testing.T) {
	t.Run("Layer order never changes the encoding", func(t *testing.T) {
		forward := encodeLayers([]model.AnalysisLayer{model.LayerJudgment, model.LayerRootCause})
		backward := encodeLayers([]model.AnalysisLayer{model.LayerRootCause, model.LayerJudgment})
		assert.Equal(t, forward, backward)
		assert.Equal(t, "judgment,root_cause", forward)
	})

	t.Run("Encoding and decoding round trip", func(t *testing.T) {
		layers := []model.AnalysisLayer{model.LayerJudgment, model.LayerRootCause}
		assert.Equal(t, layers, decodeLayers(encodeLayers(layers)))
	})

	t.Run("An empty encoding decodes to no layers", func(t *testing.T) {
		assert.Nil(t, decodeLayers(""))
	})
}
