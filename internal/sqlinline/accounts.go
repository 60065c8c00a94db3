package sqlinline

const QSelectAccount = `--sql c3b43a85-d3fe-4f2a-a7ca-b80875429cad
select id, plan, daily_quota, max_concurrent, created_at, updated_at
from accounts
where id = $1;
`

const QUpsertAccount = `--sql 0c058ccc-1e58-4355-bdb6-d5f091e5c324
insert into accounts (id, plan, daily_quota, max_concurrent, created_at, updated_at)
values ($1, $2, $3, $4, now(), now())
on conflict (id) do update set
    plan = excluded.plan,
    daily_quota = excluded.daily_quota,
    max_concurrent = excluded.max_concurrent,
    updated_at = now();
`

const QSetAccountPlan = `--sql bc6138b2-3fea-46e9-8b0c-b49169b12b83
update accounts
set plan = $2,
    daily_quota = $3,
    max_concurrent = $4,
    updated_at = now()
where id = $1;
`
