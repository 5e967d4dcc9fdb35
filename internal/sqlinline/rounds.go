package sqlinline

const QInsertRound = `--sql 6b5a4c3d-2e1f-4a9b-8c7d-0e1f2a3b4c5d
insert into rounds (id, job_id, stage, subject_index, requested, constrained, superseded, selected_id, created_at)
values ($1::uuid, $2::uuid, $3::text, $4::int, $5::int, $6::boolean, false, '', now());
`

const QGetRound = `--sql 1e2d3c4b-5a69-4788-9695-a4b3c2d1e0f9
select id, job_id, stage, subject_index, requested, constrained, superseded, selected_id, created_at
from rounds
where id = $1::uuid;
`

const QCurrentRounds = `--sql 8f7e6d5c-4b3a-4291-8071-6f5e4d3c2b1a
select id, job_id, stage, subject_index, requested, constrained, superseded, selected_id, created_at
from rounds
where job_id = $1::uuid
  and not superseded
order by created_at asc;
`

const QRoundVariants = `--sql 3c4d5e6f-7a8b-4c9d-8e0f-1a2b3c4d5e6f
select id, round_id, idx, asset_key, preview_url, gen_params, gate_score, gate_verdict, created_at
from variants
where round_id = any($1::uuid[])
order by round_id, idx asc;
`

const QInsertVariant = `--sql 5d6e7f8a-9b0c-4d1e-8f2a-3b4c5d6e7f8a
insert into variants (id, round_id, idx, asset_key, preview_url, gen_params, gate_score, gate_verdict, created_at)
values ($1::uuid, $2::uuid, $3::int, $4::text, $5::text, $6::text, $7::float8, $8::text, now());
`

const QSetRoundSelection = `--sql 0a1b2c3d-4e5f-4a6b-9c8d-7e6f5a4b3c2d
update rounds
set selected_id = $2::text
where id = $1::uuid;
`

const QSupersedeRounds = `--sql e1f2a3b4-c5d6-4e7f-8a9b-0c1d2e3f4a5b
update rounds
set superseded = true
where job_id = $1::uuid
  and not superseded;
`
