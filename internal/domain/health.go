package domain

// HealthRating is the overall rating of an ingredient
type HealthRating string

const (
	HealthRatingExcellent HealthRating = "excellent"
	HealthRatingGood      HealthRating = "good"
	HealthRatingModerate  HealthRating = "moderate"
	HealthRatingLimited   HealthRating = "limited"
)

// Valid reports whether r is one of the known ratings
func (r HealthRating) Valid() bool {
	switch r {
	case HealthRatingExcellent, HealthRatingGood, HealthRatingModerate, HealthRatingLimited:
		return true
	}
	return false
}

// IngredientHealthInfo is the health summary of a single ingredient
type IngredientHealthInfo struct {
	HealthBenefits        string       `json:"healthBenefits"`
	NutritionalHighlights []string     `json:"nutritionalHighlights"`
	HealthRating          HealthRating `json:"healthRating"`
}

// IngredientHealthRequest is the body sent to the ingredient health endpoint
type IngredientHealthRequest struct {
	Ingredient string `json:"ingredient" binding:"required"`
}
