package sqlinline

const QInsertJob = `--sql 7c1f2a9e-3d44-4b8a-9f1e-2a6c8d0b4e61
insert into jobs (
    id, user_id, product_code, media_kind, kind_override, status,
    reference_json, subjects_json, brief_json, caption_json,
    current_round_id, selected_variant, extension_keys,
    runnable, pending_extension, caption_note, redo_hint,
    retry_json, error_code, error_detail,
    publish_key, published_ref, permalink,
    scheduled_at, created_at, updated_at
) values (
    $1::uuid, $2::text, $3::text, $4::text, $5::boolean, $6::text,
    $7::jsonb, $8::jsonb, $9::jsonb, $10::jsonb,
    $11::text, $12::text, $13::jsonb,
    $14::boolean, $15::boolean, $16::text, $17::text,
    $18::jsonb, $19::text, $20::text,
    $21::text, $22::text, $23::text,
    $24::timestamptz, now(), now()
);
`

const QGetJob = `--sql b8e4d1c2-5a7f-4c3b-8e9d-6f0a1b2c3d4e
select id, user_id, product_code, media_kind, kind_override, status,
       reference_json, subjects_json, brief_json, caption_json,
       current_round_id, selected_variant, extension_keys,
       runnable, pending_extension, caption_note, redo_hint,
       retry_json, error_code, error_detail,
       publish_key, published_ref, permalink,
       scheduled_at, created_at, updated_at
from jobs
where id = $1::uuid;
`

// QUpdateJob takes the same positional argument list as QInsertJob so the two
// statements share one arg builder; user_id never actually changes.
const QUpdateJob = `--sql 2f9b8c7d-6e5a-4d3c-b2a1-9e8f7d6c5b4a
update jobs
set user_id = $2::text,
    product_code = $3::text,
    media_kind = $4::text,
    kind_override = $5::boolean,
    status = $6::text,
    reference_json = $7::jsonb,
    subjects_json = $8::jsonb,
    brief_json = $9::jsonb,
    caption_json = $10::jsonb,
    current_round_id = $11::text,
    selected_variant = $12::text,
    extension_keys = $13::jsonb,
    runnable = $14::boolean,
    pending_extension = $15::boolean,
    caption_note = $16::text,
    redo_hint = $17::text,
    retry_json = $18::jsonb,
    error_code = $19::text,
    error_detail = $20::text,
    publish_key = $21::text,
    published_ref = $22::text,
    permalink = $23::text,
    scheduled_at = $24::timestamptz,
    updated_at = now()
where id = $1::uuid;
`

// QClaimRunnableJob picks the oldest runnable job that is due (a scheduled job
// becomes due at its scheduled time) and clears the flag so no other worker
// claims it.
const QClaimRunnableJob = `--sql 4a3b2c1d-0e9f-4a8b-9c7d-5e6f7a8b9c0d
with next_job as (
    select id
    from jobs
    where runnable
      and (scheduled_at is null or scheduled_at <= now())
    order by created_at asc
    for update skip locked
    limit 1
),
claimed as (
    update jobs
    set runnable = false, updated_at = now()
    where id in (select id from next_job)
    returning id
)
select id, user_id, product_code, media_kind, kind_override, status,
       reference_json, subjects_json, brief_json, caption_json,
       current_round_id, selected_variant, extension_keys,
       runnable, pending_extension, caption_note, redo_hint,
       retry_json, error_code, error_detail,
       publish_key, published_ref, permalink,
       scheduled_at, created_at, updated_at
from jobs
where id in (select id from claimed);
`

const QFindJobByUser = `--sql 9d8c7b6a-5f4e-4d3c-a2b1-0c9d8e7f6a5b
select id
from jobs
where user_id = $1::text
  and status not in ('posted', 'failed', 'cancelled')
order by created_at desc
limit 1;
`
