package sqlinline

// Provider credentials rotated at runtime, for example the remove.bg key.

const QSelectIntegrationToken = `--sql 8a8e0d52-7f5d-4f21-8b7d-f7d4b821eed7
select token from integration_tokens where provider = $1;
`

const QUpsertIntegrationToken = `--sql 6d4f5660-0f7c-4f73-a1f3-9ab6d5e6c7a3
insert into integration_tokens (provider, token, properties, rotated_at)
values ($1, $2, coalesce($3::jsonb, '{}'::jsonb), now())
on conflict (provider) do update
set token = excluded.token,
    properties = excluded.properties,
    rotated_at = excluded.rotated_at;
`
