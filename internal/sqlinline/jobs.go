package sqlinline

const jobColumns = `id, account_id, input_asset_ids, type, params, status, progress, priority, seq,
       result_asset_id, error_kind, error_message, attempts, requeues, slot_released,
       created_at, started_at, completed_at, expires_at, updated_at`

const QInsertJob = `--sql 36300d15-2123-4174-8269-f36930d6d4aa
insert into jobs (id, account_id, input_asset_ids, type, params, status, progress, priority, seq,
                  result_asset_id, error_kind, error_message, attempts, requeues, slot_released,
                  created_at, started_at, completed_at, expires_at, updated_at)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, now());
`

const QUpdateJob = `--sql c2895296-7c6b-4897-9e28-6a818949c273
update jobs
set status = $2,
    progress = $3,
    result_asset_id = $4,
    error_kind = $5,
    error_message = $6,
    attempts = $7,
    requeues = $8,
    slot_released = $9,
    started_at = $10,
    completed_at = $11,
    updated_at = $12
where id = $1;
`

const QSelectJob = `--sql 6f175654-6a45-4759-9b4e-f58b7ecbf457
select ` + jobColumns + `
from jobs
where id = $1;
`

const QDeleteJob = `--sql 32e70134-432f-4f68-a87f-963c41df1dad
delete from jobs where id = $1;
`

const QListJobsByAccount = `--sql ebc4c8df-ef02-4ad9-8e31-68f048c5ffcc
select ` + jobColumns + `
from jobs
where account_id = $1
order by created_at desc, seq desc
limit $2;
`

const QListJobsByStatus = `--sql edae2854-4514-4e7d-9e9b-4f45b634b86f
select ` + jobColumns + `
from jobs
where status = any($1)
order by seq asc;
`

const QListExpiredJobs = `--sql bf61f1d5-0461-4373-a291-1f560eaa344f
select ` + jobColumns + `
from jobs
where expires_at <= $1
order by expires_at asc
limit $2;
`

const QCountCompletedJobs = `--sql 25467993-12ca-4534-8341-0a67850a7b54
select count(*)
from jobs
where account_id = $1
  and status = 'completed'
  and created_at >= $2
  and created_at < $3;
`
