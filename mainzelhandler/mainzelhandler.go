package mainzelhandler

import (
	"context"
	"fmt"
	"sort"

	mainzelHttp "github.com/GyroTools/mainzelhandler-connector-go/internals/http"
	"github.com/GyroTools/mainzelhandler-connector-go/internals/utils"
	"github.com/GyroTools/mainzelhandler-connector-go/mainzelhandler/models"
	"github.com/rs/zerolog"
)

// Handler pseudonymizes patients with the Mainzelliste and exchanges their
// MDAT with the backend. It holds no patient state, the application passes
// its Store to every call.
type Handler struct {
	Client       *mainzelHttp.Client
	Mainzelliste *mainzelHttp.Client

	schema     models.Schema
	apiVersion string
	logger     zerolog.Logger
}

func Ping(ctx context.Context, url string) error {
	url, err := utils.ValidateURL(url)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	client := mainzelHttp.NewClient(url, "", true)
	return client.Ping(ctx)
}

// NewHandler creates a Handler without contacting the backend.
func NewHandler(cfg Config) (*Handler, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opts := []mainzelHttp.Option{mainzelHttp.WithTimeout(cfg.Timeout), mainzelHttp.WithLogger(cfg.Logger)}
	if cfg.HTTPClient != nil {
		opts = append(opts, mainzelHttp.WithHTTPClient(cfg.HTTPClient))
	}

	var client *mainzelHttp.Client
	if cfg.Username != "" {
		client = mainzelHttp.NewPasswordClient(cfg.ServerURL, cfg.Username, cfg.Password, cfg.VerifyCertificate, opts...)
	} else {
		client = mainzelHttp.NewClient(cfg.ServerURL, cfg.APIKey, cfg.VerifyCertificate, opts...)
	}

	return &Handler{
		Client:       client,
		Mainzelliste: mainzelHttp.NewMainzellisteClient(cfg.APIVersion, cfg.VerifyCertificate, opts...),
		schema:       cfg.IDATFields,
		apiVersion:   cfg.APIVersion,
		logger:       cfg.Logger,
	}, nil
}

// Create creates a Handler and checks that the backend is reachable.
func Create(ctx context.Context, cfg Config) (*Handler, error) {
	handler, err := NewHandler(cfg)
	if err != nil {
		return nil, err
	}
	if err := handler.Client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("cannot connect to the mainzelhandler backend: %w", err)
	}
	return handler, nil
}

func (h *Handler) Schema() models.Schema {
	return h.schema
}

func (h *Handler) APIVersion() string {
	return h.apiVersion
}

// CreatePatient validates the IDAT and returns a new patient with status
// CREATED.
func (h *Handler) CreatePatient(idat models.IDAT, mdat string) (*models.Patient, error) {
	validated, err := h.ValidateIDAT(idat)
	if err != nil {
		return nil, err
	}
	return models.NewPatient(validated, mdat), nil
}

// CreateIDAT builds an IDAT from values given in the order of the schema.
// nil values are treated as absent.
func (h *Handler) CreateIDAT(values ...any) (models.IDAT, error) {
	if len(values) > len(h.schema) {
		return nil, fmt.Errorf("got %d idat values but the schema only has %d fields", len(values), len(h.schema))
	}
	idat := models.IDAT{}
	for i, value := range values {
		if value != nil {
			idat[h.schema[i].Name] = value
		}
	}
	return h.ValidateIDAT(idat)
}

// ValidateIDAT returns the normalized IDAT or a *models.ValidationError.
func (h *Handler) ValidateIDAT(idat models.IDAT) (models.IDAT, error) {
	return h.schema.Validate(idat)
}

// UpdateIDAT applies changes to the IDAT of the patient. A nil value removes
// an optional field. If anything changed and the patient already has a
// pseudonym, the pseudonym is dropped and the status set to CREATED. The
// patient is left untouched if the changes are invalid.
func (h *Handler) UpdateIDAT(patient *models.Patient, changes models.IDAT) error {
	updated := patient.IDAT.Clone()
	changed := false

	names := make([]string, 0, len(changes))
	for name := range changes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field, ok := h.schema.Field(name)
		if !ok {
			return &models.ValidationError{Field: name, Reason: models.ReasonUnknown}
		}
		value, err := h.schema.Normalize(name, changes[name])
		if err != nil {
			return err
		}
		old, present := updated[name]
		if value == nil {
			if !present {
				continue
			}
			if field.Required {
				return &models.ValidationError{Field: name, Reason: models.ReasonRequiredDelete}
			}
			delete(updated, name)
			changed = true
			continue
		}
		if !present || old != value {
			updated[name] = value
			changed = true
		}
	}

	validated, err := h.schema.Validate(updated)
	if err != nil {
		return err
	}
	patient.IDAT = validated

	if changed && patient.Status.HasPseudonym() {
		h.logger.Debug().Str("pseudonym", patient.Pseudonym).Msg("idat changed, resetting pseudonym")
		patient.ResetIdentity()
	}
	return nil
}

// UpdateMDAT sets the MDAT of the patient. A patient that was already sent
// or requested can be sent again afterwards.
func (h *Handler) UpdateMDAT(patient *models.Patient, mdat string) {
	if patient.MDAT == mdat {
		return
	}
	patient.MDAT = mdat
	if patient.Status.IsHandled() {
		patient.ResetHandled()
	}
}

// GetPatients returns the keys of the patients with one of the given states.
// If keys is nil every patient in the store is considered.
func (h *Handler) GetPatients(store *models.Store, keys []models.Key, states ...models.Status) []models.Key {
	return store.Filter(keys, states...)
}

// SendPatients pseudonymizes the given patients and sends the MDAT of all
// patients with a pseudonym to the backend. If keys is nil every patient in
// the store is sent. Handled patients are only sent again if retrySucceeded
// is set.
func (h *Handler) SendPatients(ctx context.Context, store *models.Store, keys []models.Key, retrySucceeded bool) error {
	pseudonymized, err := h.handlePseudonymization(ctx, store, keys, retrySucceeded)
	if err != nil {
		return err
	}
	return h.send(ctx, store, pseudonymized)
}

// RequestPatients pseudonymizes the given patients and requests their MDAT
// from the backend.
func (h *Handler) RequestPatients(ctx context.Context, store *models.Store, keys []models.Key, retrySucceeded bool) error {
	pseudonymized, err := h.handlePseudonymization(ctx, store, keys, retrySucceeded)
	if err != nil {
		return err
	}
	return h.request(ctx, store, pseudonymized)
}

// Depseudonymize returns the IDAT of the given pseudonyms. resultFields
// restricts the returned fields, by default every schema field is returned.
func (h *Handler) Depseudonymize(ctx context.Context, pseudonyms []string, resultFields ...string) (*models.DepseudonymizationResult, error) {
	return h.depseudonymize(ctx, pseudonyms, resultFields)
}
