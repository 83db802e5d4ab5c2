// Package qrpayload encodes and decodes the wallet identification
// payload exchanged through customer QR codes.
package qrpayload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"station-svc/models"

	"github.com/go-playground/validator/v10"
)

var (
	ErrMalformedSyntax      = errors.New("qr payload: malformed syntax")
	ErrMissingRequiredField = errors.New("qr payload: missing required field")
	ErrInvalidField         = errors.New("qr payload: invalid field")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Encode serializes p as the JSON wire format. Field order follows the
// struct declaration, so equal payloads always produce equal text.
func Encode(p models.Payload) string {
	if p.MaxAmount != nil && (math.IsNaN(*p.MaxAmount) || math.IsInf(*p.MaxAmount, 0)) {
		p.MaxAmount = nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		// unreachable for finite payloads
		return "{}"
	}
	return string(b)
}

// Decode parses text and validates it. On error the returned payload is
// always the zero value.
func Decode(text string) (models.Payload, error) {
	trimmed := bytes.TrimSpace([]byte(text))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return models.Payload{}, fmt.Errorf("%w: expected a JSON object", ErrMalformedSyntax)
	}

	var p models.Payload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return models.Payload{}, fmt.Errorf("%w: %v", ErrMalformedSyntax, err)
	}

	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return models.Payload{}, fmt.Errorf("%w: %v", ErrInvalidField, err)
		}
		fe := verrs[0]
		if fe.Tag() == "required" {
			return models.Payload{}, fmt.Errorf("%w: %s", ErrMissingRequiredField, fe.Field())
		}
		return models.Payload{}, fmt.Errorf("%w: %s failed %s", ErrInvalidField, fe.Field(), fe.Tag())
	}

	return p, nil
}

// NewWalletPayload builds the payload a customer wallet displays,
// stamped with the current time.
func NewWalletPayload(userID, walletID, name string, vehicle *models.Vehicle) models.Payload {
	p := models.Payload{
		UserID:    userID,
		WalletID:  walletID,
		Name:      name,
		Vehicle:   vehicle,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if vehicle != nil {
		p.VehicleID = vehicle.ID
		p.FuelType = vehicle.FuelType
	}
	return p
}
