package boq

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecover_Strict(t *testing.T) {
	text := "```json\n" + `[
  {"item_code": "A1", "description": "Supply XLPE cable", "quantity": 10, "unit": "m", "total_rate": 250, "amount": 2500, "category_code": "CAB", "confidence": 0.9},
  {"item_code": "A2", "description": "Cable glands", "quantity": "Rate only", "unit": "no", "rate": "R 45,00"}
]` + "\n```"

	res, err := Recover(text)
	require.NoError(t, err)
	assert.Equal(t, StageStrict, res.Stage)
	require.Len(t, res.Items, 2)

	a1 := res.Items[0]
	assert.Equal(t, "A1", a1.ItemCode)
	assert.Equal(t, "Supply XLPE cable", a1.Description)
	assert.Equal(t, 10.0, *a1.Quantity)
	assert.Equal(t, "m", a1.Unit)
	assert.Equal(t, 250.0, *a1.TotalRate)
	assert.Equal(t, 2500.0, *a1.Amount)
	assert.Equal(t, "CAB", a1.CategoryCode)
	assert.Equal(t, 0.9, *a1.Confidence)

	a2 := res.Items[1]
	assert.True(t, a2.IsRateOnly)
	assert.Nil(t, a2.Quantity)
	require.NotNil(t, a2.TotalRate)
	assert.Equal(t, 45.0, *a2.TotalRate)
}

func TestRecover_ProseAroundArray(t *testing.T) {
	text := `Here are the extracted items:
[{"itemCode": "B1", "desc": "LED downlight", "qty": 4, "unit_rate": 300}]
Let me know if you need anything else.`

	res, err := Recover(text)
	require.NoError(t, err)
	assert.Equal(t, StageStrict, res.Stage)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "B1", res.Items[0].ItemCode)
	assert.Equal(t, "LED downlight", res.Items[0].Description)
	assert.Equal(t, 300.0, *res.Items[0].TotalRate)
}

func TestRecover_StrictDiscardsInvalidElements(t *testing.T) {
	res, err := Recover(`[{"description": "Cable tray"}, {"description": ""}, 5, {"item_code": "X"}]`)
	require.NoError(t, err)
	assert.Equal(t, StageStrict, res.Stage)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Cable tray", res.Items[0].Description)
	assert.Equal(t, 3, res.Discarded)
}

func TestRecover_RepairsMissingClosers(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{
			name: "missing array close",
			text: `[{"item_code": "A1", "description": "Supply XLPE cable", "quantity": 10}`,
			want: 1,
		},
		{
			name: "missing object and array close",
			text: `[{"item_code": "A1", "description": "Supply XLPE cable"}, {"item_code": "A2", "description": "Cable glands", "quantity": 4`,
			want: 2,
		},
		{
			name: "dangling comma",
			text: `[{"item_code": "A1", "description": "Supply XLPE cable"},`,
			want: 1,
		},
		{
			name: "unterminated string",
			text: `[{"item_code": "A1", "description": "Supply XLPE cable"}, {"item_code": "A2", "description": "Cable gla`,
			want: 2,
		},
		{
			name: "nested brackets inside strings",
			text: `[{"item_code": "A1", "description": "Cable [4mm] {armoured}", "quantity": 1`,
			want: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Recover(tt.text)
			require.NoError(t, err)
			assert.Equal(t, StageRepaired, res.Stage)
			assert.Len(t, res.Items, tt.want)
		})
	}
}

func TestRepairJSON_AppendsClosersInStackOrder(t *testing.T) {
	assert.Equal(t, `[{"a":[1,2]}]`, repairJSON(`[{"a":[1,2`))
	assert.Equal(t, `[{"a":"x\"y"}]`, repairJSON(`[{"a":"x\"y`))
	assert.Equal(t, `[1]`, repairJSON(`[1]`))
}

func TestRecover_SalvagesObjects(t *testing.T) {
	text := `[{"item_code": "A1", "description": "Supply XLPE cable", "quantity": 10},
{"item_code": "A2", "description": "Cable glands", "quantity": 4, "unit": "no"},
{"item_code": "A3", "description": "Broken" "quantity": 1},
{"description": "No code here", "quantity": 2},
{"item_code": "A4", "description": "Trunking", "quantity": 6, "confidence": 7},
{"item_code": "A5", "description": "Earth bar", "quantity": 1}, oops ]]`

	res, err := Recover(text)
	require.NoError(t, err)
	assert.Equal(t, StageSalvaged, res.Stage)
	require.Len(t, res.Items, 3)
	assert.Equal(t, "A1", res.Items[0].ItemCode)
	assert.Equal(t, "A2", res.Items[1].ItemCode)
	assert.Equal(t, "A5", res.Items[2].ItemCode)
	assert.Equal(t, 3, res.Discarded)
}

func TestRecover_NothingRecoverable(t *testing.T) {
	for _, text := range []string{
		"",
		"I could not find any line items in this sheet.",
		"[]",
		`[{"foo": "bar"}]`,
		`{"description": "no code"}`,
	} {
		_, err := Recover(text)
		assert.True(t, errors.Is(err, ErrNoRecoverableItems), "text %q: %v", text, err)
	}
}

func TestCanonicalFields(t *testing.T) {
	f := canonicalFields(map[string]any{
		"Item Code":   "A1",
		"Description": "Cable",
		"Unit-Rate":   12.5,
		"extra":       true,
	})
	assert.Equal(t, "A1", f["item_code"])
	assert.Equal(t, "Cable", f["description"])
	assert.Equal(t, 12.5, f["total_rate"])
	assert.Equal(t, true, f["extra"])
}

func TestAnyHelpers(t *testing.T) {
	assert.Equal(t, "1.1", anyString(1.1))
	assert.Equal(t, "", anyString(nil))
	assert.Nil(t, anyFloat("n/a"))
	assert.Equal(t, 1250.0, *anyFloat("1,250.00"))
	assert.True(t, anyBool("Yes"))
	assert.False(t, anyBool(0.0))
}
