package cms

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gematik/erezept-fachdienst/pkg/prescriptionid"
	"github.com/gematik/erezept-fachdienst/pkg/types"
)

// prescriptionIdSystem and kvnrSystem are the FHIR identifier systems the
// KBV prescription bundle carries, per original_source/server/src/fhir/
// definitions/kbv_bundle.rs's Composition/Patient identifiers. The full
// KBV_PR_ERP_Bundle profile has dozens of fields; only what activate() needs
// is decoded here — pkg/fhircodec stays the single place that owns the
// complete FHIR document shape.
const (
	prescriptionIdSystem = "https://gematik.de/fhir/NamingSystem/PrescriptionID"
	kvnrSystem            = "http://fhir.de/NamingSystem/gkv/kvid-10"
	multiplePrescriptionExt = "https://gematik.de/fhir/StructureDefinition/KBV_EX_ERP_Multiple_Prescription"
	multiplePeriodExt       = "Zeitraum"
)

// defaultValidityDays is how long a single (non-multiple) prescription
// stays acceptable once issued, absent an explicit validity period.
const defaultValidityDays = 28

type fhirIdentifier struct {
	System string `json:"system"`
	Value  string `json:"value"`
}

type fhirEntry struct {
	FullUrl  string          `json:"fullUrl"`
	Resource json.RawMessage `json:"resource"`
}

type fhirBundle struct {
	ResourceType string         `json:"resourceType"`
	Identifier   fhirIdentifier `json:"identifier"`
	Entry        []fhirEntry    `json:"entry"`
}

type fhirResourceStub struct {
	ResourceType string `json:"resourceType"`
}

type fhirPatient struct {
	Identifier []fhirIdentifier `json:"identifier"`
}

type fhirPeriod struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type fhirExtension struct {
	Url       string          `json:"url"`
	ValuePeriod *fhirPeriod   `json:"valuePeriod,omitempty"`
	Extension []fhirExtension `json:"extension,omitempty"`
}

type fhirMedicationRequest struct {
	AuthoredOn string          `json:"authoredOn"`
	Extension  []fhirExtension `json:"extension"`
}

// decodedBundle is what VerifyBundle extracts from the inner KBV bundle
// JSON before translating it into a state.VerifiedBundle.
type decodedBundle struct {
	prescriptionId string
	flowType       types.FlowType
	kvnr           types.Kvnr
	authoredOn     time.Time
	acceptDate     time.Time
	expiryDate     time.Time
}

func decodeKBVBundle(raw []byte) (decodedBundle, error) {
	var bundle fhirBundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return decodedBundle{}, fmt.Errorf("cms: decoding bundle: %w", err)
	}
	if bundle.ResourceType != "Bundle" {
		return decodedBundle{}, fmt.Errorf("cms: expected a Bundle resource, got %q", bundle.ResourceType)
	}

	if bundle.Identifier.System != prescriptionIdSystem || bundle.Identifier.Value == "" {
		return decodedBundle{}, fmt.Errorf("cms: bundle carries no prescription id")
	}
	id, err := prescriptionid.Parse(bundle.Identifier.Value)
	if err != nil {
		return decodedBundle{}, fmt.Errorf("cms: %w", err)
	}

	var patient *fhirPatient
	var medReq *fhirMedicationRequest
	for _, entry := range bundle.Entry {
		var stub fhirResourceStub
		if err := json.Unmarshal(entry.Resource, &stub); err != nil {
			continue
		}
		switch stub.ResourceType {
		case "Patient":
			var p fhirPatient
			if err := json.Unmarshal(entry.Resource, &p); err == nil {
				patient = &p
			}
		case "MedicationRequest":
			var m fhirMedicationRequest
			if err := json.Unmarshal(entry.Resource, &m); err == nil {
				medReq = &m
			}
		}
	}

	if patient == nil {
		return decodedBundle{}, fmt.Errorf("cms: bundle carries no Patient resource")
	}
	kvnr, err := extractKvnr(patient)
	if err != nil {
		return decodedBundle{}, err
	}

	if medReq == nil {
		return decodedBundle{}, fmt.Errorf("cms: bundle carries no MedicationRequest resource")
	}
	authoredOn, err := parseFHIRDate(medReq.AuthoredOn)
	if err != nil {
		return decodedBundle{}, fmt.Errorf("cms: MedicationRequest.authoredOn: %w", err)
	}

	accept, expiry := validityWindow(medReq, authoredOn)

	return decodedBundle{
		prescriptionId: bundle.Identifier.Value,
		flowType:       id.FlowType,
		kvnr:           kvnr,
		authoredOn:     authoredOn,
		acceptDate:     accept,
		expiryDate:     expiry,
	}, nil
}

func extractKvnr(p *fhirPatient) (types.Kvnr, error) {
	for _, id := range p.Identifier {
		if id.System == kvnrSystem && id.Value != "" {
			return types.Kvnr(id.Value), nil
		}
	}
	return "", fmt.Errorf("cms: Patient carries no KVNR identifier")
}

// validityWindow reads the multiple-prescription validity period if the
// bundle carries one; otherwise a standard prescription is acceptable from
// the moment it's authored until defaultValidityDays later.
func validityWindow(medReq *fhirMedicationRequest, authoredOn time.Time) (accept, expiry time.Time) {
	if period := findValidityPeriod(medReq.Extension); period != nil {
		start, startErr := parseFHIRDate(period.Start)
		end, endErr := parseFHIRDate(period.End)
		if startErr == nil && endErr == nil {
			return start, end
		}
	}
	return authoredOn, authoredOn.AddDate(0, 0, defaultValidityDays)
}

func findValidityPeriod(extensions []fhirExtension) *fhirPeriod {
	for _, ext := range extensions {
		if ext.Url != multiplePrescriptionExt {
			continue
		}
		for _, inner := range ext.Extension {
			if inner.Url == multiplePeriodExt && inner.ValuePeriod != nil {
				return inner.ValuePeriod
			}
		}
	}
	return nil
}

func parseFHIRDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format %q", s)
}
