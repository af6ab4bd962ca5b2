package linking

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openclaw/subbot-linker/internal/config"
	apperrors "github.com/openclaw/subbot-linker/internal/errors"
	"github.com/openclaw/subbot-linker/internal/model"
	"github.com/openclaw/subbot-linker/internal/observability"
	"github.com/openclaw/subbot-linker/internal/retry"
	"github.com/openclaw/subbot-linker/internal/util"
)

// Clock supplies the current time. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

type Options struct {
	TTL      time.Duration
	Retry    retry.Policy
	KeysWait time.Duration
	KeysPoll time.Duration
	Clock    Clock
	Metrics  *observability.Metrics
}

func OptionsFromConfig(cfg *config.Config, metrics *observability.Metrics) Options {
	return Options{
		TTL: cfg.SessionTTL(),
		Retry: retry.Policy{
			MaxAttempts:  cfg.PairingMaxAttempts,
			InitialDelay: cfg.PairingRetryDelay(),
			Multiplier:   config.PairingRetryMultiplier,
			Deadline:     cfg.PairingTimeout(),
		},
		KeysWait: cfg.PairingKeysWait(),
		KeysPoll: config.PairingKeysPollInterval,
		Clock:    SystemClock{},
		Metrics:  metrics,
	}
}

func (o *Options) setDefaults() {
	if o.TTL <= 0 {
		o.TTL = 10 * time.Minute
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = retry.Policy{
			MaxAttempts:  3,
			InitialDelay: 2 * time.Second,
			Multiplier:   config.PairingRetryMultiplier,
			Deadline:     30 * time.Second,
		}
	}
	if o.KeysPoll <= 0 {
		o.KeysPoll = config.PairingKeysPollInterval
	}
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
}

// CreateOptions are the caller-supplied parameters of a new session.
type CreateOptions struct {
	TargetNumber string
	DisplayName  string
	// CustomCode is an optional caller-chosen pairing code.
	CustomCode string
}

type createRequest struct {
	Owner        string         `validate:"required,max=128"`
	Mode         model.LinkMode `validate:"required,oneof=pairing_code qr_code"`
	TargetNumber string         `validate:"required_if=Mode pairing_code,omitempty,numeric,min=8,max=15"`
	DisplayName  string         `validate:"omitempty,max=64"`
	CustomCode   string         `validate:"omitempty,alphanum,len=8"`
}

var validate = validator.New()

// normalize validates the request. Fields that do not apply to the mode are
// dropped.
func normalize(owner string, mode model.LinkMode, opts CreateOptions) (*createRequest, error) {
	req := &createRequest{
		Owner:        strings.TrimSpace(owner),
		Mode:         mode,
		TargetNumber: util.NormalizeNumber(opts.TargetNumber),
		DisplayName:  strings.TrimSpace(opts.DisplayName),
		CustomCode:   strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(opts.CustomCode), "-", "")),
	}
	if mode == model.LinkModeQRCode {
		req.TargetNumber = ""
		req.CustomCode = ""
	}

	if err := validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	return req, nil
}

func validationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperrors.ValidationError(err.Error())
	}
	parts := make([]string, 0, len(verrs))
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := fieldName(fe.Field())
		parts = append(parts, fmt.Sprintf("%s: failed %s", name, fe.Tag()))
		fields[name] = fe.Tag()
	}
	return apperrors.ValidationError(strings.Join(parts, "; ")).WithDetails(fields)
}

func fieldName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}
