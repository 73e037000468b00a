package vulnfeed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// kevLegacyRecord is the older flat catalog shape
type kevLegacyRecord struct {
	VendorProject string `json:"Vendor/Project"`
	Vendor        string `json:"Vendor"`
	CVE           string `json:"CVE"`
}

type kevCatalog struct {
	Vulnerabilities *[]struct {
		VendorProject string `json:"vendorProject"`
		Product       string `json:"product"`
		CVEID         string `json:"cveID"`
	} `json:"vulnerabilities"`
}

// parseKEV reads the known-exploited catalog. Both the flat array and the
// current {"vulnerabilities": [...]} document are accepted.
func parseKEV(data []byte) ([]Advisory, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}

	if data[0] == '[' {
		var records []kevLegacyRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, err
		}
		advisories := make([]Advisory, 0, len(records))
		for _, r := range records {
			field := r.VendorProject
			if field == "" {
				field = r.Vendor
			}
			if r.CVE == "" {
				continue
			}
			advisories = append(advisories, Advisory{Field: field, ID: r.CVE})
		}
		return advisories, nil
	}

	var catalog kevCatalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, err
	}
	if catalog.Vulnerabilities == nil {
		return nil, errors.New("missing vulnerabilities list")
	}
	advisories := make([]Advisory, 0, len(*catalog.Vulnerabilities))
	for _, v := range *catalog.Vulnerabilities {
		if v.CVEID == "" {
			continue
		}
		advisories = append(advisories, Advisory{Field: v.VendorProject, ID: v.CVEID})
	}
	return advisories, nil
}

type nvdDocument struct {
	Result *struct {
		Items *[]struct {
			CVE struct {
				Meta struct {
					ID string `json:"ID"`
				} `json:"CVE_data_meta"`
			} `json:"cve"`
		} `json:"CVE_Items"`
	} `json:"result"`
}

// parseNVD reads the CVE database document. The identifier is both the
// matched field and the reported vulnerability.
func parseNVD(data []byte) ([]Advisory, error) {
	var doc nvdDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Result == nil || doc.Result.Items == nil {
		return nil, errors.New("missing result.CVE_Items")
	}
	advisories := make([]Advisory, 0, len(*doc.Result.Items))
	for _, item := range *doc.Result.Items {
		id := item.CVE.Meta.ID
		if id == "" {
			continue
		}
		advisories = append(advisories, Advisory{Field: id, ID: id})
	}
	return advisories, nil
}

type cveDetailsRecord struct {
	Product string `json:"product"`
	CVEID   string `json:"cve_id"`
}

// parseCVEDetails reads the product feed
func parseCVEDetails(data []byte) ([]Advisory, error) {
	var records []cveDetailsRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("expected product array: %w", err)
	}
	advisories := make([]Advisory, 0, len(records))
	for _, r := range records {
		if r.CVEID == "" {
			continue
		}
		advisories = append(advisories, Advisory{Field: r.Product, ID: r.CVEID})
	}
	return advisories, nil
}
