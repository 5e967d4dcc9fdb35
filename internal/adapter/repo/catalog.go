package repo

import (
	"context"
	"fmt"

	"postpilot/internal/domain"
	"postpilot/internal/infra"
	"postpilot/internal/pipeline"
	"postpilot/internal/sqlinline"
)

// Catalog resolves product codes against the products tables.
type Catalog struct {
	db infra.SQLExecutor
}

func NewCatalog(db infra.SQLExecutor) *Catalog {
	return &Catalog{db: db}
}

var _ pipeline.ProductCatalog = (*Catalog)(nil)

func (c *Catalog) ResolveProduct(ctx context.Context, code string) (*domain.Product, error) {
	row := c.db.QueryRow(ctx, sqlinline.QGetProduct, code)
	var p domain.Product
	if err := row.Scan(
		&p.Code, &p.Name, &p.Type, &p.Fabric, &p.Colors, &p.Motif,
		&p.ArtisanName, &p.DaysToMake, &p.Technique, &p.Price, &p.ShopURL,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get product %s: %w", code, err)
	}

	rows, err := c.db.Query(ctx, sqlinline.QProductPhotos, code)
	if err != nil {
		return nil, fmt.Errorf("query product photos: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var photo domain.ProductPhoto
		if err := rows.Scan(&photo.Key, &photo.URL, &photo.IsPrimary); err != nil {
			return nil, err
		}
		p.Photos = append(p.Photos, photo)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &p, nil
}
