package domain

// Product is a catalog entry a job may reference by code instead of carrying
// inline photos.
type Product struct {
	Code        string
	Name        string
	Type        string
	Fabric      string
	Colors      string
	Motif       string
	ArtisanName string
	DaysToMake  int
	Technique   string
	Price       string
	ShopURL     string
	Photos      []ProductPhoto
}

// ProductPhoto is one stored photo of a product. Primary photos sort first
// when a job resolves its subject assets from the catalog.
type ProductPhoto struct {
	Key       string
	URL       string
	IsPrimary bool
}

// SubjectAssetsFromProduct orders the product's photos primary-first and maps
// them to subject assets.
func SubjectAssetsFromProduct(p *Product) []SubjectAsset {
	if p == nil || len(p.Photos) == 0 {
		return nil
	}
	assets := make([]SubjectAsset, 0, len(p.Photos))
	pos := 0
	for _, photo := range p.Photos {
		if photo.IsPrimary {
			assets = append(assets, SubjectAsset{Key: photo.Key, URL: photo.URL, Position: pos})
			pos++
		}
	}
	for _, photo := range p.Photos {
		if !photo.IsPrimary {
			assets = append(assets, SubjectAsset{Key: photo.Key, URL: photo.URL, Position: pos})
			pos++
		}
	}
	return assets
}
