package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/chamomilehq/chamomile/internal/apikey/domain"
	"github.com/chamomilehq/chamomile/internal/events"
	"github.com/chamomilehq/chamomile/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  apikeydomain.Repository
	Bus   events.Bus
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  apikeydomain.Repository
	genID *snowflake.Node
	bus   events.Bus
}

func New(p Params) apikeydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("apikey.service"),
		repo:  p.Repo,
		genID: p.GenID,
		bus:   p.Bus,
	}
}

func (s *Service) List(ctx context.Context, userID snowflake.ID) ([]apikeydomain.Response, error) {
	items, err := s.repo.List(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}

	resp := make([]apikeydomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Create(ctx context.Context, userID snowflake.ID, req apikeydomain.CreateRequest) (*apikeydomain.Response, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}

	key := &apikeydomain.APIKey{
		ID:        s.genID.Generate(),
		UserID:    userID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	// The unique index on key is the collision guard; an 18-byte random
	// value colliding is close enough to impossible that one retry is plenty.
	for attempt := 0; ; attempt++ {
		raw, err := apikeydomain.GenerateKey()
		if err != nil {
			return nil, err
		}
		key.Key = raw

		err = s.repo.Insert(ctx, s.db, key)
		if err == nil {
			break
		}
		if db.IsDuplicateKeyErr(err) && attempt == 0 {
			continue
		}
		return nil, err
	}

	s.publish(events.OpInsert, key.ID, userID)
	resp := toResponse(key)
	return &resp, nil
}

func (s *Service) Rename(ctx context.Context, userID snowflake.ID, keyID snowflake.ID, req apikeydomain.RenameRequest) (*apikeydomain.Response, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}

	affected, err := s.repo.UpdateName(ctx, s.db, userID, keyID, name)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, apikeydomain.ErrNotFound
	}

	s.publish(events.OpUpdate, keyID, userID)

	items, err := s.repo.List(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == keyID {
			resp := toResponse(&items[i])
			return &resp, nil
		}
	}
	return nil, apikeydomain.ErrNotFound
}

func (s *Service) Delete(ctx context.Context, userID snowflake.ID, keyID snowflake.ID) error {
	affected, err := s.repo.Delete(ctx, s.db, userID, keyID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apikeydomain.ErrNotFound
	}

	s.publish(events.OpDelete, keyID, userID)
	return nil
}

func (s *Service) FindByKey(ctx context.Context, raw string) (*apikeydomain.APIKey, error) {
	raw = strings.TrimSpace(raw)
	if !apikeydomain.ValidKeyFormat(raw) {
		return nil, nil
	}
	return s.repo.FindByKey(ctx, s.db, raw)
}

func (s *Service) publish(op string, keyID, userID snowflake.ID) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.ChangeEvent{
		Entity: events.EntityAPIKeys,
		Op:     op,
		RowID:  keyID.String(),
		UserID: userID.String(),
		At:     time.Now().UTC(),
	})
}

func toResponse(key *apikeydomain.APIKey) apikeydomain.Response {
	return apikeydomain.Response{
		ID:        key.ID.String(),
		Name:      key.Name,
		Key:       key.Key,
		CreatedAt: key.CreatedAt,
	}
}
