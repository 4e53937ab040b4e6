package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pocketbase/dbx"

	"github.com/dlnabridge/dlnabridge/model"
	"github.com/dlnabridge/dlnabridge/model/id"
)

var ErrNotFound = errors.New("record not found")

type deviceProfileRepository struct {
	ctx context.Context
	db  *dbx.DB
}

func NewDeviceProfileRepository(ctx context.Context, db *dbx.DB) model.DeviceProfileRepository {
	return &deviceProfileRepository{ctx: ctx, db: db}
}

const profileColumns = "id, name, user_agent_match, manufacturer, model_name, " +
	"max_streaming_bitrate, enabled, sort_order, created_at, updated_at"

func (r *deviceProfileRepository) Get(profileID string) (*model.DeviceProfile, error) {
	var p model.DeviceProfile
	err := r.db.Select().From("device_profile").
		Where(dbx.HashExp{"id": profileID}).One(&p)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *deviceProfileRepository) GetAll() (model.DeviceProfiles, error) {
	var all model.DeviceProfiles
	err := r.db.Select().From("device_profile").
		Where(dbx.HashExp{"enabled": true}).
		OrderBy("sort_order asc", "name asc").All(&all)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if err := r.loadChildren(&all[i]); err != nil {
			return nil, err
		}
	}
	return all, nil
}

func (r *deviceProfileRepository) loadChildren(p *model.DeviceProfile) error {
	err := r.db.Select().From("device_profile_direct_play").
		Where(dbx.HashExp{"profile_id": p.ID}).OrderBy("id").All(&p.DirectPlay)
	if err != nil {
		return err
	}
	return r.db.Select().From("device_profile_transcoding").
		Where(dbx.HashExp{"profile_id": p.ID}).OrderBy("id").All(&p.Transcoding)
}

// Put creates or replaces a profile together with its sub-profiles.
func (r *deviceProfileRepository) Put(p *model.DeviceProfile) error {
	if p.ID == "" {
		p.ID = id.NewRandom()
	}
	p.UpdatedAt = time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = p.UpdatedAt
	}
	return r.db.Transactional(func(tx *dbx.Tx) error {
		if _, err := tx.Delete("device_profile", dbx.HashExp{"id": p.ID}).Execute(); err != nil {
			return err
		}
		_, err := tx.Insert("device_profile", dbx.Params{
			"id":                    p.ID,
			"name":                  p.Name,
			"user_agent_match":      p.UserAgentMatch,
			"manufacturer":          p.Manufacturer,
			"model_name":            p.ModelName,
			"max_streaming_bitrate": p.MaxStreamingBitrate,
			"enabled":               p.Enabled,
			"sort_order":            p.SortOrder,
			"created_at":            p.CreatedAt,
			"updated_at":            p.UpdatedAt,
		}).Execute()
		if err != nil {
			return err
		}
		for i := range p.DirectPlay {
			dp := &p.DirectPlay[i]
			if dp.ID == "" {
				dp.ID = id.NewRandom()
			}
			dp.ProfileID = p.ID
			_, err := tx.Insert("device_profile_direct_play", dbx.Params{
				"id":          dp.ID,
				"profile_id":  dp.ProfileID,
				"media_type":  dp.MediaType,
				"container":   dp.Container,
				"video_codec": dp.VideoCodec,
				"audio_codec": dp.AudioCodec,
			}).Execute()
			if err != nil {
				return err
			}
		}
		for i := range p.Transcoding {
			tp := &p.Transcoding[i]
			if tp.ID == "" {
				tp.ID = id.NewRandom()
			}
			tp.ProfileID = p.ID
			_, err := tx.Insert("device_profile_transcoding", dbx.Params{
				"id":          tp.ID,
				"profile_id":  tp.ProfileID,
				"media_type":  tp.MediaType,
				"container":   tp.Container,
				"video_codec": tp.VideoCodec,
				"audio_codec": tp.AudioCodec,
				"protocol":    tp.Protocol,
			}).Execute()
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *deviceProfileRepository) Delete(profileID string) error {
	// Children are removed by the cascade on profile_id.
	_, err := r.db.Delete("device_profile", dbx.HashExp{"id": profileID}).Execute()
	return err
}

func (r *deviceProfileRepository) CountAll() (int64, error) {
	var count int64
	err := r.db.NewQuery("select count(*) from device_profile").Row(&count)
	return count, err
}

var _ model.DeviceProfileRepository = (*deviceProfileRepository)(nil)
