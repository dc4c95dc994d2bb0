package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staywise/dwh-pipeline/pkg/models"
)

func writeDatasets(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "datasets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validDatasets = `
datasets:
  - name: countries
    endpoint: countries
    shared_across_branches: true
    primary_key: id
    schema:
      - name: id
        type: int
        required: true
      - name: name
        type: string
        required: true

  - name: bookings
    endpoint: bookings
    paginated: true
    incremental: true
    window_field: create_date
    window_days: 30
    primary_key: id
    base_params:
      state: confirmed
    schema:
      - name: id
        type: int
        required: true
      - name: total_price
        type: float
      - name: pricelist_id
        type: int
        source: pricelist.id
        reduce_pair: true
      - name: create_date
        type: datetime
        required: true
    compare_fields:
      - total_price
    fact: true
    fact_table: fact_booking
    measures:
      - total_price
    dimensions:
      - table: dim_pricelist
        kind: distinct
        natural_key: pricelist_id
        fact_key: pricelist_key
`

func TestLoadDatasetsParsesDescriptors(t *testing.T) {
	path := writeDatasets(t, validDatasets)
	datasets, err := LoadDatasets(path)
	require.NoError(t, err)
	require.Len(t, datasets, 2)

	countries := datasets[0]
	assert.True(t, countries.SharedAcrossBranches)
	assert.False(t, countries.Incremental)

	bookings := datasets[1]
	assert.True(t, bookings.Paginated)
	assert.Equal(t, "create_date", bookings.WindowField)
	assert.Equal(t, 30, bookings.WindowDays)
	assert.Equal(t, "confirmed", bookings.BaseParams["state"])
	assert.Equal(t, []string{"total_price"}, bookings.CompareFields)

	pricelist := bookings.Field("pricelist_id")
	require.NotNil(t, pricelist)
	assert.Equal(t, models.TypeInt, pricelist.Type)
	assert.Equal(t, "pricelist.id", pricelist.Source)
	assert.True(t, pricelist.ReducePair)

	require.Len(t, bookings.Dimensions, 1)
	assert.Equal(t, "pricelist_key", bookings.Dimensions[0].FactKey)
}

func TestLoadDatasetsRejections(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing file content",
			body: "datasets: []",
			want: "declares no datasets",
		},
		{
			name: "primary key not in schema",
			body: `
datasets:
  - name: x
    endpoint: x
    primary_key: missing
    schema:
      - {name: id, type: int}
`,
			want: `primary_key "missing" is not a schema field`,
		},
		{
			name: "incremental without window",
			body: `
datasets:
  - name: x
    endpoint: x
    primary_key: id
    incremental: true
    schema:
      - {name: id, type: int}
`,
			want: "window_field",
		},
		{
			name: "compare field not in schema",
			body: `
datasets:
  - name: x
    endpoint: x
    primary_key: id
    compare_fields: [ghost]
    schema:
      - {name: id, type: int}
`,
			want: `compare field "ghost"`,
		},
		{
			name: "fact without table",
			body: `
datasets:
  - name: x
    endpoint: x
    primary_key: id
    fact: true
    schema:
      - {name: id, type: int}
`,
			want: "fact_table",
		},
		{
			name: "measure not in schema",
			body: `
datasets:
  - name: x
    endpoint: x
    primary_key: id
    fact: true
    fact_table: fact_x
    measures: [phantom]
    schema:
      - {name: id, type: int}
`,
			want: `measure "phantom"`,
		},
		{
			name: "natural key not in schema",
			body: `
datasets:
  - name: x
    endpoint: x
    primary_key: id
    schema:
      - {name: id, type: int}
    dimensions:
      - {table: dim_x, kind: distinct, natural_key: ghost_id}
`,
			want: `natural_key "ghost_id"`,
		},
		{
			name: "dimension attribute not in schema",
			body: `
datasets:
  - name: x
    endpoint: x
    primary_key: id
    schema:
      - {name: id, type: int}
    dimensions:
      - {table: dim_x, kind: distinct, natural_key: id, attributes: [ghost]}
`,
			want: `attribute "ghost"`,
		},
		{
			name: "calendar field not in schema",
			body: `
datasets:
  - name: x
    endpoint: x
    primary_key: id
    schema:
      - {name: id, type: int}
      - {name: starts, type: date}
    dimensions:
      - {table: dim_date, kind: calendar, from_field: starts, to_field: ends}
`,
			want: `to_field "ends"`,
		},
		{
			name: "calendar with fact key",
			body: `
datasets:
  - name: x
    endpoint: x
    primary_key: id
    schema:
      - {name: id, type: int}
      - {name: starts, type: date}
      - {name: ends, type: date}
    dimensions:
      - {table: dim_date, kind: calendar, from_field: starts, to_field: ends, fact_key: date_key}
`,
			want: "calendar dimensions cannot declare fact_key",
		},
		{
			name: "unknown dimension kind",
			body: `
datasets:
  - name: x
    endpoint: x
    primary_key: id
    schema:
      - {name: id, type: int}
    dimensions:
      - {table: dim_x, kind: fancy}
`,
			want: `unknown kind "fancy"`,
		},
		{
			name: "duplicate names",
			body: `
datasets:
  - name: x
    endpoint: x
    primary_key: id
    schema:
      - {name: id, type: int}
  - name: x
    endpoint: x
    primary_key: id
    schema:
      - {name: id, type: int}
`,
			want: `duplicate dataset name "x"`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeDatasets(t, tc.body)
			_, err := LoadDatasets(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadDatasetsMissingFile(t *testing.T) {
	_, err := LoadDatasets(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read datasets file")
}

func TestShippedDatasetsFileIsValid(t *testing.T) {
	datasets, err := LoadDatasets(filepath.Join("..", "..", "configs", "datasets.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, datasets)

	var bookings *models.DatasetDescriptor
	for i := range datasets {
		if datasets[i].Name == "bookings" {
			bookings = &datasets[i]
		}
	}
	require.NotNil(t, bookings, "shipped config declares the booking fact dataset")
	assert.True(t, bookings.Fact)
	assert.NotEmpty(t, bookings.Dimensions)
}
