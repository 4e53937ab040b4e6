package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateDeviceProfile, downCreateDeviceProfile)
}

func upCreateDeviceProfile(_ context.Context, tx *sql.Tx) error {
	_, err := tx.Exec(`
create table if not exists device_profile
(
    id                     varchar(255) not null primary key,
    name                   varchar(255) not null,
    user_agent_match       varchar(255) default '' not null,
    manufacturer           varchar(255) default '' not null,
    model_name             varchar(255) default '' not null,
    max_streaming_bitrate  integer default 0 not null,
    enabled                bool default true not null,
    sort_order             integer default 0 not null,
    created_at             datetime not null,
    updated_at             datetime not null
);

create table if not exists device_profile_direct_play
(
    id           varchar(255) not null primary key,
    profile_id   varchar(255) not null references device_profile(id) on delete cascade,
    media_type   varchar(255) default '' not null,
    container    varchar(255) default '' not null,
    video_codec  varchar(255) default '' not null,
    audio_codec  varchar(255) default '' not null
);

create table if not exists device_profile_transcoding
(
    id           varchar(255) not null primary key,
    profile_id   varchar(255) not null references device_profile(id) on delete cascade,
    media_type   varchar(255) default '' not null,
    container    varchar(255) default '' not null,
    video_codec  varchar(255) default '' not null,
    audio_codec  varchar(255) default '' not null,
    protocol     varchar(255) default '' not null
);

create index if not exists device_profile_direct_play_profile_id on device_profile_direct_play(profile_id);
create index if not exists device_profile_transcoding_profile_id on device_profile_transcoding(profile_id);
create index if not exists device_profile_sort_order on device_profile(sort_order);
`)
	return err
}

func downCreateDeviceProfile(_ context.Context, tx *sql.Tx) error {
	_, err := tx.Exec(`
drop table if exists device_profile_transcoding;
drop table if exists device_profile_direct_play;
drop table if exists device_profile;
`)
	return err
}
