package rates

import (
	"sort"

	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
)

// DefaultDataset is used when a request names no yield curve
const DefaultDataset = "AU-10"

// Government bond yield datasets and the files that hold them
var datasets = map[string]string{
	"AU-10": "AUS_10yr_rfr.csv",
	"AU-5":  "AUS_5yr_rfr.csv",
	"AU-3":  "AUS_3yr_rfr.csv",
	"AU-2":  "AUS_2yr_rfr.csv",
	"US-10": "US_10yr_rfr.csv",
	"US-5":  "US_5yr_rfr.csv",
	"US-2":  "US_2yr_rfr.csv",
	"US-1":  "US_1yr_rfr.csv",
}

// Datasets returns the known dataset ids in sorted order
func Datasets() []string {
	ids := make([]string, 0, len(datasets))
	for id := range datasets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FileName returns the file holding dataset id
func FileName(id string) (string, error) {
	name, ok := datasets[id]
	if !ok {
		return "", errors.DataUnavailablef("unknown rate dataset %q", id)
	}
	return name, nil
}
