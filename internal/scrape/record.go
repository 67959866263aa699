package scrape

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ProductRecord is one extracted price observation.
type ProductRecord struct {
	Name               string   `json:"name" validate:"required"`
	Subtype            *string  `json:"subtype"`
	WebsiteProductName *string  `json:"website_product_name"`
	PricePerKg         *float64 `json:"price_per_kg" validate:"omitempty,gte=0"`
	PricePerUnit       *float64 `json:"price_per_unit" validate:"omitempty,gte=0"`
	Currency           *string  `json:"currency"`
	OriginalPriceInfo  *string  `json:"original_price_info"`
	EstimationNotes    *string  `json:"estimation_notes"`
	SupermarketName    string   `json:"supermarket_name" validate:"required"`
	Country            string   `json:"country" validate:"required"`
	Bio                *bool    `json:"bio" validate:"required"`

	// Provenance, filled in after the agent returns.
	ScrappedDate string   `json:"scrapped_date,omitempty"`
	ID           string   `json:"_id,omitempty"`
	ModelUsed    string   `json:"model_used,omitempty"`
	TokensUsed   *int64   `json:"tokens_used,omitempty"`
	TotalCost    *float64 `json:"total_cost,omitempty"`
	Year         int      `json:"year,omitempty"`
	Month        int      `json:"month,omitempty"`
	Day          int      `json:"day,omitempty"`

	// Extra holds fields the agent returned that the schema does not name.
	Extra map[string]json.RawMessage `json:"-"`
}

type recordFields ProductRecord

// Validate checks the required fields of the output schema.
func (r ProductRecord) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: invalid product record: %s", ErrUnparseable, strings.Join(fields, ", "))
		}
		return fmt.Errorf("validate product record: %w", err)
	}
	return nil
}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
func (r *ProductRecord) UnmarshalJSON(data []byte) error {
	var known recordFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, name := range knownFieldNames {
		delete(all, name)
	}
	*r = ProductRecord(known)
	if len(all) > 0 {
		r.Extra = all
	}
	return nil
}

// MarshalJSON encodes the known fields followed by Extra.
func (r ProductRecord) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(recordFields(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if _, taken := merged[k]; taken {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

var knownFieldNames = []string{
	"name", "subtype", "website_product_name", "price_per_kg", "price_per_unit",
	"currency", "original_price_info", "estimation_notes", "supermarket_name",
	"country", "bio", "scrapped_date", "_id", "model_used", "tokens_used",
	"total_cost", "year", "month", "day",
}

// Artifact is the persisted checkpoint document for one job.
type Artifact struct {
	Products []ProductRecord `json:"products"`
}

// EmptyArtifact is the terminal "looked and found nothing" document.
func EmptyArtifact() Artifact {
	return Artifact{Products: []ProductRecord{}}
}

// Encode serializes the artifact, always emitting a products list.
func (a Artifact) Encode() ([]byte, error) {
	if a.Products == nil {
		a.Products = []ProductRecord{}
	}
	payload, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal artifact: %w", err)
	}
	return append(payload, '\n'), nil
}

// DecodeArtifact parses agent output into a validated Artifact. It accepts an
// optional markdown code fence around the JSON document.
func DecodeArtifact(data []byte) (Artifact, error) {
	trimmed := stripCodeFence(bytes.TrimSpace(data))
	if len(trimmed) == 0 {
		return Artifact{}, fmt.Errorf("%w: empty output", ErrUnparseable)
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return Artifact{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	raw, ok := envelope["products"]
	if !ok {
		return Artifact{}, fmt.Errorf("%w: missing products field", ErrUnparseable)
	}
	var products []ProductRecord
	if err := json.Unmarshal(raw, &products); err != nil {
		return Artifact{}, fmt.Errorf("%w: products: %v", ErrUnparseable, err)
	}
	for i, p := range products {
		if err := p.Validate(); err != nil {
			return Artifact{}, fmt.Errorf("product %d: %w", i, err)
		}
	}
	if products == nil {
		products = []ProductRecord{}
	}
	return Artifact{Products: products}, nil
}

func stripCodeFence(data []byte) []byte {
	if !bytes.HasPrefix(data, []byte("```")) {
		return data
	}
	body := data[3:]
	if nl := bytes.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		return data
	}
	body = bytes.TrimSpace(body)
	body = bytes.TrimSuffix(body, []byte("```"))
	return bytes.TrimSpace(body)
}
