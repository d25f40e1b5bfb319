package models

// Place is one candidate safe location returned by the places collaborator.
type Place struct {
	Name           string  `yaml:"name" json:"name"`
	Type           string  `yaml:"type" json:"type"`
	Lat            float64 `yaml:"lat" json:"lat"`
	Lng            float64 `yaml:"lng" json:"lng"`
	Address        string  `yaml:"address,omitempty" json:"address,omitempty"`
	DistanceMeters float64 `yaml:"distance_meters" json:"distance_meters"`
}
