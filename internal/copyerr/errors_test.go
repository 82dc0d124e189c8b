package copyerr

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionErrorMessage(t *testing.T) {
	cause := errors.New("Access denied for user 'root'")
	err := Connection(cause, "Connecting to target %s", "localhost:3306")
	assert.Equal(t, "Connecting to target localhost:3306: Access denied for user 'root'", err.Error())

	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.True(t, errors.Is(err, cause))
}

func TestTypeMismatchMessage(t *testing.T) {
	err := &TypeMismatchError{Field: 3, Expected: "long", Actual: "string"}
	assert.Equal(t, "Type mismatch fetching field 3 (should be long, was string)", err.Error())
}

func TestWrappedKindsStayVisible(t *testing.T) {
	var de *DataError
	assert.True(t, errors.As(errors.Wrap(Data("oversized blob found in table a.b, size: 10"), "fetch"), &de))
	assert.True(t, errors.Is(errors.Wrap(ErrOversizedRow, "insert"), ErrOversizedRow))
	var le *LogicError
	assert.True(t, errors.As(Logic("Unhandled type %d", 101), &le))
}

func TestTriggerRestoreRequired(t *testing.T) {
	cause := errors.New("denied")
	err := &TriggerRestoreRequiredError{Schema: "shop", Trigger: "trg_ins", Cause: cause}
	assert.Contains(t, err.Error(), "shop.wb_tmp_triggers")
	assert.True(t, errors.Is(err, cause))
}
