package purchase

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DomainRequestKey separates request identity hashes from any other hash the
// system computes over the same bytes.
const DomainRequestKey = "dropcart/request/v1"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Inbound is a purchase request as received from a producer or the control
// API.
type Inbound struct {
	URL       string           `json:"url" validate:"required,http_url"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Product   string           `json:"product,omitempty" validate:"max=512"`
	MessageID string           `json:"messageId,omitempty" validate:"max=256"`
}

// Request is an immutable purchase request.
//
// ID correlates events, confirmations and the activity record for one
// enqueue. Key is a content hash of URL and source message id that producers
// can use to spot duplicates.
type Request struct {
	ID              string           `json:"id"`
	Key             string           `json:"key"`
	URL             string           `json:"url"`
	ExpectedPrice   *decimal.Decimal `json:"expected_price,omitempty"`
	ProductLabel    string           `json:"product,omitempty"`
	SourceMessageID string           `json:"message_id,omitempty"`
	EnqueuedAt      time.Time        `json:"enqueued_at"`
}

// IDGenerator produces request ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable request ids.
type UUIDv7Generator struct{}

// Generate returns a hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ErrInvalidRequest is wrapped by every validation failure from NewRequest.
var ErrInvalidRequest = errors.New("invalid purchase request")

// NewRequest validates in and builds a Request stamped with now.
func NewRequest(in Inbound, ids IDGenerator, now time.Time) (Request, error) {
	in.URL = strings.TrimSpace(in.URL)
	if err := validate.Struct(in); err != nil {
		return Request{}, fmt.Errorf("%w: %s", ErrInvalidRequest, describeValidation(err))
	}
	if in.Price != nil && !in.Price.IsPositive() {
		return Request{}, fmt.Errorf("%w: price must be positive, got %s", ErrInvalidRequest, in.Price)
	}

	key, err := RequestKey(in.URL, in.MessageID)
	if err != nil {
		return Request{}, err
	}

	var price *decimal.Decimal
	if in.Price != nil {
		p := *in.Price
		price = &p
	}

	return Request{
		ID:              ids.Generate(),
		Key:             key,
		URL:             in.URL,
		ExpectedPrice:   price,
		ProductLabel:    in.Product,
		SourceMessageID: in.MessageID,
		EnqueuedAt:      now,
	}, nil
}

// RequestKey computes the identity hint for a URL and optional source
// message id: SHA256(domain + 0x00 + canonical JSON).
func RequestKey(rawURL, messageID string) (string, error) {
	obj := map[string]any{"url": rawURL}
	if messageID != "" {
		obj["message_id"] = messageID
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("request key: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(DomainRequestKey))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Label returns the product label, falling back to the URL.
func (r Request) Label() string {
	if r.ProductLabel != "" {
		return r.ProductLabel
	}
	return r.URL
}

// OffersDialogRequested reports whether the URL asks for the multi-offer
// dialog up front (aod=1).
func (r Request) OffersDialogRequested() bool {
	u, err := url.Parse(r.URL)
	if err != nil {
		return false
	}
	return u.Query().Get("aod") == "1"
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
