package revenue

import (
	"testing"

	"github.com/creatorfund/backend/internal/apperrors"
	"github.com/creatorfund/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableForEveryStream(t *testing.T) {
	for _, stream := range models.Streams {
		table, err := TableFor(stream)
		require.NoError(t, err, stream)
		assert.Equal(t, stream, table.Stream)
		assert.NotEmpty(t, table.BeneficiaryColumn)
	}

	_, err := TableFor("nft")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestTableModelIsFreshEachCall(t *testing.T) {
	table, err := TableFor(models.StreamTip)
	require.NoError(t, err)

	first, second := table.Model(), table.Model()
	assert.IsType(t, &models.Tip{}, first)
	assert.NotSame(t, first, second)
}
