package sqlinline

const assetColumns = `id, account_id, kind, filename, mime, size_bytes, duration_seconds, storage_key, status, created_at, expires_at`

const QInsertAsset = `--sql 536d7d82-974e-429d-9cc8-7d4578675393
insert into media_assets (` + assetColumns + `)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
`

const QSelectAsset = `--sql af8b0978-fd51-4e3d-ad65-4b8061e53fe6
select ` + assetColumns + `
from media_assets
where id = $1;
`

const QUpdateAssetStatus = `--sql 36c170e1-bd90-4504-851a-a61788fdef34
update media_assets set status = $2 where id = $1;
`

const QDeleteAsset = `--sql 7217a656-83e1-4284-8087-86c796d7921f
delete from media_assets where id = $1;
`

const QListExpiredAssets = `--sql a423f874-26d2-4937-9914-c9c581d2486c
select ` + assetColumns + `
from media_assets
where expires_at <= $1
order by expires_at asc
limit $2;
`
