package sqlinline

const QSchema = `--sql 58c9d27f-b77b-407c-b695-72a8cc116d90
create table if not exists accounts (
    id             text primary key,
    plan           text not null default 'free',
    daily_quota    integer not null default 3,
    max_concurrent integer not null default 1,
    created_at     timestamptz not null default now(),
    updated_at     timestamptz not null default now()
);

create table if not exists media_assets (
    id               text primary key,
    account_id       text not null references accounts(id),
    kind             text not null,
    filename         text not null default '',
    mime             text not null default '',
    size_bytes       bigint not null default 0,
    duration_seconds double precision not null default 0,
    storage_key      text not null,
    status           text not null default 'uploaded',
    created_at       timestamptz not null default now(),
    expires_at       timestamptz not null
);
create index if not exists media_assets_expires_at_idx on media_assets (expires_at);

create table if not exists jobs (
    id              text primary key,
    account_id      text not null references accounts(id),
    input_asset_ids text[] not null,
    type            text not null,
    params          jsonb not null default '{}'::jsonb,
    status          text not null,
    progress        integer not null default 0,
    priority        integer not null default 0,
    seq             bigint not null default 0,
    result_asset_id text not null default '',
    error_kind      text not null default '',
    error_message   text not null default '',
    attempts        integer not null default 0,
    requeues        integer not null default 0,
    slot_released   boolean not null default false,
    created_at      timestamptz not null,
    started_at      timestamptz,
    completed_at    timestamptz,
    expires_at      timestamptz not null,
    updated_at      timestamptz not null default now()
);
create index if not exists jobs_account_status_idx on jobs (account_id, status);
create index if not exists jobs_expires_at_idx on jobs (expires_at);

create table if not exists integration_tokens (
    provider   text primary key,
    token      text not null,
    properties jsonb not null default '{}'::jsonb,
    rotated_at timestamptz not null default now()
);
`
