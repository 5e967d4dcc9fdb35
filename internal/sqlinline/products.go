package sqlinline

const QGetProduct = `--sql a9b8c7d6-e5f4-4321-9087-6f5e4d3c2b1a
select code, name, type, fabric, colors, motif, artisan_name, days_to_make, technique, price, shop_url
from products
where code = $1::text;
`

const QProductPhotos = `--sql 7f6e5d4c-3b2a-4190-8776-5e4d3c2b1a09
select asset_key, url, is_primary
from product_photos
where product_code = $1::text
order by is_primary desc, position asc;
`
