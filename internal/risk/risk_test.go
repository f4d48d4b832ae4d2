package risk

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: "High", want: High},
		{in: "  medium ", want: Medium},
		{in: "LOW", want: Low},
		{in: "critical", wantErr: true},
		{in: "", wantErr: true},
		{in: "High|Medium", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidLevel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevel_Rank(t *testing.T) {
	assert.Less(t, Low.Rank(), Medium.Rank())
	assert.Less(t, Medium.Rank(), High.Rank())
	assert.Equal(t, -1, Level("Severe").Rank())
}

func TestVerdict_JSON(t *testing.T) {
	t.Run("decodes case-insensitive level", func(t *testing.T) {
		var v Verdict
		err := json.Unmarshal([]byte(`{"risk":"high","rationale":"LSA impaired","evidence":["lifeboat"]}`), &v)
		require.NoError(t, err)
		assert.Equal(t, High, v.Risk)
		assert.Equal(t, []string{"lifeboat"}, v.Evidence)
	})

	t.Run("rejects free text level", func(t *testing.T) {
		var v Verdict
		err := json.Unmarshal([]byte(`{"risk":"very high","rationale":"x","evidence":[]}`), &v)
		assert.Error(t, err)
	})

	t.Run("refuses to encode invalid level", func(t *testing.T) {
		_, err := json.Marshal(Verdict{Risk: "Unknown"})
		assert.Error(t, err)
	})
}

func TestRecord_Text(t *testing.T) {
	r := Record{
		Deficiency: "Lifeboat davit seized",
		RootCause:  "No greasing",
		Corrective: "Greased",
		Preventive: "Added to PMS",
	}

	assert.Equal(t,
		"DEFICIENCY: Lifeboat davit seized\nROOT_CAUSE: No greasing\nCORRECTIVE: Greased\nPREVENTIVE: Added to PMS",
		r.Text())
	assert.Equal(t, "DEFICIENCY: Lifeboat davit seized\nROOT_CAUSE: No greasing", r.Query())
}

func TestClassificationError(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := fmt.Errorf("classify: %w", &ClassificationError{Position: 3, Reason: "invalid JSON", Err: cause})

	assert.ErrorIs(t, err, ErrClassification)
	assert.ErrorIs(t, err, cause)

	var ce *ClassificationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.Position)
	assert.Contains(t, err.Error(), "record 3")
}

func TestSegmentationError(t *testing.T) {
	err := &SegmentationError{Block: 2}
	assert.ErrorIs(t, err, ErrSegmentation)
	assert.Equal(t, "block 2: segmentation failed", err.Error())
}

func TestResult_Overridden(t *testing.T) {
	r := Result{Verdict: Verdict{Risk: Low}, Final: High}
	assert.True(t, r.Overridden())

	r.Final = Low
	assert.False(t, r.Overridden())
}
