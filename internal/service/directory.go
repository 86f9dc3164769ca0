package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sakif/care-assign/internal/apperror"
	"github.com/sakif/care-assign/internal/geo"
	"github.com/sakif/care-assign/internal/model"
	"github.com/sakif/care-assign/internal/repository"
)

const (
	MaxNameLength   = 100
	MaxSpecialties  = 32
	MaxScheduleSize = 7 * 4
	MaxRating       = 5
)

// DirectoryService registers and reads users and providers. It owns the
// input rules; the repository stores whatever it is given.
type DirectoryService struct {
	users     repository.UserRepository
	providers repository.ProviderRepository
	logger    *slog.Logger
}

func NewDirectoryService(users repository.UserRepository, providers repository.ProviderRepository, logger *slog.Logger) *DirectoryService {
	return &DirectoryService{users: users, providers: providers, logger: logger}
}

// NewUser is the registration input for a care recipient.
type NewUser struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Location    *geo.Coordinate `json:"location"`
	Specialties []string        `json:"specialties"`
}

// NewProvider is the registration input for a provider. An empty Status
// registers the provider as active.
//
// CurrentUsers seeds an existing load when providers are imported in-process
// (and in tests). It is not part of the JSON body: over the API every
// provider starts empty and only assignments move its load.
type NewProvider struct {
	ID                  string                 `json:"id"`
	Name                string                 `json:"name"`
	Profession          string                 `json:"profession"`
	ServiceCenter       geo.Coordinate         `json:"serviceCenter"`
	ServiceRadiusMeters float64                `json:"serviceRadius"`
	MaxUsers            int                    `json:"maxUsers"`
	CurrentUsers        int                    `json:"-"`
	Specialties         []string               `json:"specialties"`
	WorkSchedule        []model.ScheduleWindow `json:"workSchedule"`
	Status              model.ProviderStatus   `json:"status"`
	Rating              float64                `json:"rating"`
}

func (s *DirectoryService) RegisterUser(ctx context.Context, in NewUser) (*model.User, error) {
	name, err := validName(in.Name)
	if err != nil {
		return nil, err
	}
	if in.Location != nil {
		if err := in.Location.Validate("location"); err != nil {
			return nil, err
		}
	}
	specialties, err := normalizeSpecialties(in.Specialties)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		ID:          strings.TrimSpace(in.ID),
		Name:        name,
		Location:    in.Location,
		Specialties: specialties,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		s.logCreateFailure("user", err)
		return nil, err
	}

	s.logger.Info("user registered", slog.String("id", user.ID))
	return user, nil
}

func (s *DirectoryService) RegisterProvider(ctx context.Context, in NewProvider) (*model.Provider, error) {
	name, err := validName(in.Name)
	if err != nil {
		return nil, err
	}
	if err := in.ServiceCenter.Validate("serviceCenter"); err != nil {
		return nil, err
	}
	if !(in.ServiceRadiusMeters > 0) || math.IsInf(in.ServiceRadiusMeters, 0) {
		return nil, apperror.ValidationFailed("serviceRadius", "service radius must be a positive number of meters")
	}
	if in.MaxUsers <= 0 {
		return nil, apperror.ValidationFailed("maxUsers", "maxUsers must be at least 1")
	}
	if in.CurrentUsers < 0 || in.CurrentUsers > in.MaxUsers {
		return nil, apperror.ValidationFailed("currentUsers",
			fmt.Sprintf("currentUsers must be between 0 and %d", in.MaxUsers))
	}
	status := in.Status
	switch status {
	case "":
		status = model.ProviderActive
	case model.ProviderActive, model.ProviderInactive, model.ProviderSuspended:
	default:
		return nil, apperror.ValidationFailed("status", fmt.Sprintf("unknown provider status %q", in.Status))
	}
	if in.Rating < 0 || in.Rating > MaxRating || math.IsNaN(in.Rating) {
		return nil, apperror.ValidationFailed("rating", fmt.Sprintf("rating must be between 0 and %d", MaxRating))
	}
	specialties, err := normalizeSpecialties(in.Specialties)
	if err != nil {
		return nil, err
	}
	if err := validateSchedule(in.WorkSchedule); err != nil {
		return nil, err
	}

	p := &model.Provider{
		ID:                  strings.TrimSpace(in.ID),
		Name:                name,
		Profession:          strings.TrimSpace(in.Profession),
		ServiceCenter:       in.ServiceCenter,
		ServiceRadiusMeters: in.ServiceRadiusMeters,
		MaxUsers:            in.MaxUsers,
		CurrentUsers:        in.CurrentUsers,
		Specialties:         specialties,
		WorkSchedule:        in.WorkSchedule,
		Status:              status,
		Rating:              in.Rating,
	}
	if err := s.providers.CreateProvider(ctx, p); err != nil {
		s.logCreateFailure("provider", err)
		return nil, err
	}

	s.logger.Info("provider registered",
		slog.String("id", p.ID),
		slog.Int("max_users", p.MaxUsers),
	)
	return p, nil
}

func (s *DirectoryService) GetUser(ctx context.Context, id string) (*model.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "user ID is required")
	}
	return s.users.GetUser(ctx, id)
}

func (s *DirectoryService) ListUsers(ctx context.Context, limit, offset int) ([]model.User, error) {
	return s.users.ListUsers(ctx, clampPage(limit, offset))
}

func (s *DirectoryService) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "provider ID is required")
	}
	return s.providers.GetProvider(ctx, id)
}

func (s *DirectoryService) ListProviders(ctx context.Context, limit, offset int) ([]model.Provider, error) {
	providers, err := s.providers.ListProviders(ctx, clampPage(limit, offset))
	if err != nil {
		return nil, err
	}
	if providers == nil {
		providers = []model.Provider{}
	}
	return providers, nil
}

func (s *DirectoryService) logCreateFailure(resource string, err error) {
	if apperror.Kind(err) != "Internal" {
		return
	}
	s.logger.Error("failed to register "+resource, slog.String("error", err.Error()))
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperror.ValidationFailed("name", "name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", apperror.ValidationFailed("name",
			fmt.Sprintf("name must be %d characters or less", MaxNameLength))
	}
	return name, nil
}

// normalizeSpecialties lower-cases, trims and de-duplicates tags, keeping
// first-seen order.
func normalizeSpecialties(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, tag := range in {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || slices.Contains(out, tag) {
			continue
		}
		out = append(out, tag)
	}
	if len(out) > MaxSpecialties {
		return nil, apperror.ValidationFailed("specialties",
			fmt.Sprintf("at most %d specialties are allowed", MaxSpecialties))
	}
	return out, nil
}

func validateSchedule(windows []model.ScheduleWindow) error {
	if len(windows) > MaxScheduleSize {
		return apperror.ValidationFailed("workSchedule",
			fmt.Sprintf("at most %d schedule windows are allowed", MaxScheduleSize))
	}
	for i, w := range windows {
		if w.Day < time.Sunday || w.Day > time.Saturday {
			return apperror.ValidationFailed("workSchedule",
				fmt.Sprintf("window %d: day must be 0 (Sunday) to 6 (Saturday)", i))
		}
		start, err := time.Parse("15:04", w.Start)
		if err != nil {
			return apperror.ValidationFailed("workSchedule", fmt.Sprintf("window %d: start must be HH:MM", i))
		}
		end, err := time.Parse("15:04", w.End)
		if err != nil {
			return apperror.ValidationFailed("workSchedule", fmt.Sprintf("window %d: end must be HH:MM", i))
		}
		if !end.After(start) {
			return apperror.ValidationFailed("workSchedule", fmt.Sprintf("window %d: end must be after start", i))
		}
	}
	return nil
}
