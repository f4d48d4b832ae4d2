package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/rsrisk/internal/risk"
)

const (
	H = risk.High
	M = risk.Medium
	L = risk.Low
)

func TestEvaluate(t *testing.T) {
	gold := []risk.Level{H, H, M, M, L, L}
	pred := []risk.Level{H, M, M, M, L, H}

	r, err := Evaluate(pred, gold)
	require.NoError(t, err)

	assert.Equal(t, 6, r.Total)
	assert.InDelta(t, 4.0/6.0, r.Accuracy, 1e-9)

	require.Len(t, r.Classes, 3)
	high := r.Classes[0]
	assert.Equal(t, H, high.Level)
	assert.InDelta(t, 0.5, high.Precision, 1e-9)
	assert.InDelta(t, 0.5, high.Recall, 1e-9)
	assert.InDelta(t, 0.5, high.F1, 1e-9)
	assert.Equal(t, 2, high.Support)

	medium := r.Classes[1]
	assert.InDelta(t, 2.0/3.0, medium.Precision, 1e-9)
	assert.InDelta(t, 1.0, medium.Recall, 1e-9)
	assert.InDelta(t, 0.8, medium.F1, 1e-9)

	low := r.Classes[2]
	assert.InDelta(t, 1.0, low.Precision, 1e-9)
	assert.InDelta(t, 0.5, low.Recall, 1e-9)

	assert.InDelta(t, (0.5+2.0/3.0+1.0)/3, r.MacroPrecision, 1e-9)
	assert.Equal(t, 1, r.Confusion[L][H])
	assert.Equal(t, 1, r.Confusion[H][M])
}

func TestEvaluate_ZeroDivision(t *testing.T) {
	r, err := Evaluate([]risk.Level{L, L}, []risk.Level{L, L})
	require.NoError(t, err)

	assert.Equal(t, 1.0, r.Accuracy)
	assert.Zero(t, r.Classes[0].Precision, "no High predictions")
	assert.Zero(t, r.Classes[0].Recall, "no High support")
	assert.Zero(t, r.Classes[0].F1)
	assert.InDelta(t, 1.0/3.0, r.MacroF1, 1e-9)

	empty, err := Evaluate(nil, nil)
	require.NoError(t, err)
	assert.Zero(t, empty.Accuracy)
}

func TestEvaluate_Errors(t *testing.T) {
	_, err := Evaluate([]risk.Level{H}, nil)
	assert.Error(t, err)

	_, err = Evaluate([]risk.Level{"Critical"}, []risk.Level{H})
	assert.ErrorIs(t, err, risk.ErrInvalidLevel)
}
