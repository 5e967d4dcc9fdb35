package sqlinline

// QConsumeDailyQuota bumps the user's submission counter for today and returns
// the new value; the caller compares it against the configured limit. The
// upsert keeps the check-and-increment atomic under concurrent submissions.
const QConsumeDailyQuota = `--sql f0e1d2c3-b4a5-4697-8879-6a5b4c3d2e1f
insert into daily_usage (user_id, day, submissions)
values ($1::text, current_date, 1)
on conflict (user_id, day)
do update set submissions = daily_usage.submissions + 1
where daily_usage.submissions < $2::int
returning submissions;
`
