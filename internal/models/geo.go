package models

// GeoJSONPoint is the only GeoJSON geometry type the collections store.
const GeoJSONPoint = "Point"

// GeoPoint is a GeoJSON point with descriptive fields, as stored in the
// startLocation and locations fields of a tour. Coordinates are [lng, lat].
type GeoPoint struct {
	Type        string    `bson:"type" json:"type" validate:"omitempty,eq=Point"`
	Coordinates []float64 `bson:"coordinates" json:"coordinates" validate:"len=2,dive,gte=-180,lte=180"`
	Address     string    `bson:"address,omitempty" json:"address,omitempty"`
	Description string    `bson:"description,omitempty" json:"description,omitempty"`
	Day         int       `bson:"day,omitempty" json:"day,omitempty"`
}

// Coordinates is a position on the sphere.
type Coordinates struct {
	Lat float64
	Lng float64
}

// Position returns the coordinates of the point.
func (p *GeoPoint) Position() (Coordinates, bool) {
	if p == nil || len(p.Coordinates) != 2 {
		return Coordinates{}, false
	}
	return Coordinates{Lng: p.Coordinates[0], Lat: p.Coordinates[1]}, true
}
