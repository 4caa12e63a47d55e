package domain

import "time"

// Report is the meal analysis produced by the generation pipeline.
// It is never mutated after creation except for image stripping in storage.
type Report struct {
	ID                  string              `json:"id"`
	ImageURL            string              `json:"imageUrl"`
	Recipe              Recipe              `json:"recipe"`
	NutritionalProfile  NutritionalProfile  `json:"nutritionalProfile"`
	CostBreakdown       CostBreakdown       `json:"costBreakdown"`
	FitnessGoalAnalysis FitnessGoalAnalysis `json:"fitnessGoalAnalysis"`
	PurchaseLocations   *PurchaseLocations  `json:"purchaseLocations,omitempty"`
	DebugInfo           []string            `json:"debugInfo,omitempty"`
}

// Recipe describes the dish identified in the photo
type Recipe struct {
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	Ingredients     []Ingredient     `json:"ingredients"`
	Steps           []string         `json:"steps"`
	MainIngredients []MainIngredient `json:"mainIngredients,omitempty"`
}

// Ingredient is a single line of the ingredient list
type Ingredient struct {
	Name   string `json:"name"`
	Amount string `json:"amount"`
}

// MainIngredient is a highlighted ingredient with a small thumbnail
type MainIngredient struct {
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl"`
}

// NutritionalProfile contains the macronutrients of the meal
type NutritionalProfile struct {
	Calories          float64            `json:"calories"`
	Protein           float64            `json:"protein"`       // grams
	Carbohydrates     float64            `json:"carbohydrates"` // grams
	Fat               float64            `json:"fat"`           // grams
	DetailedNutrients []DetailedNutrient `json:"detailedNutrients,omitempty"`
}

// DetailedNutrient is a micronutrient line
type DetailedNutrient struct {
	Name               string  `json:"name"`
	Amount             float64 `json:"amount"`
	Unit               string  `json:"unit"`
	PercentOfDailyNeed float64 `json:"percentOfDailyNeeds"`
}

// CostBreakdown is the estimated cost of the meal in USD
type CostBreakdown struct {
	TotalCost       float64          `json:"totalCost"`
	PerServing      float64          `json:"perServing"`
	IngredientCosts []IngredientCost `json:"ingredientCosts,omitempty"`
}

// IngredientCost is the cost share of one ingredient
type IngredientCost struct {
	Name string  `json:"name"`
	Cost float64 `json:"cost"`
}

// FitnessGoalAnalysis is the health evaluation against the user's goal
type FitnessGoalAnalysis struct {
	HealthScore         *float64          `json:"healthScore,omitempty"`
	MealSummary         string            `json:"mealSummary,omitempty"`
	PositivePoints      []string          `json:"positivePoints,omitempty"`
	AreasForImprovement []string          `json:"areasForImprovement,omitempty"`
	GeneralTips         []string          `json:"generalTips,omitempty"`
	HealthierOptions    []HealthierOption `json:"healthierOptions,omitempty"`
	DailyGoals          *DailyGoals       `json:"dailyGoals,omitempty"`
	TDEE                float64           `json:"tdee,omitempty"`
	GoalCalories        float64           `json:"goalCalories,omitempty"`
	Feedback            string            `json:"feedback,omitempty"`
}

// HealthierOption is a substitution suggestion for one ingredient
type HealthierOption struct {
	OriginalIngredient string `json:"originalIngredient"`
	IsHealthy          bool   `json:"isHealthy"`
	Suggestion         string `json:"suggestion"`
}

// DailyGoals are the user's daily macro targets
type DailyGoals struct {
	Calories      float64 `json:"calories"`
	Protein       float64 `json:"protein"`
	Carbohydrates float64 `json:"carbohydrates"`
	Fat           float64 `json:"fat"`
}

// PurchaseLocations suggests where the dish or its ingredients can be bought
type PurchaseLocations struct {
	Restaurants []Place `json:"restaurants"`
	Stores      []Place `json:"stores"`
}

// Place is a restaurant or store suggestion
type Place struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// UnknownRecipeName is used when a report carries no recipe name
const UnknownRecipeName = "Unknown Recipe"

// StoredReportEnvelope wraps a Report with repository metadata.
// Timestamp is milliseconds since the Unix epoch, matching records written by older clients.
type StoredReportEnvelope struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Timestamp   int64    `json:"timestamp"`
	HealthScore *float64 `json:"healthScore,omitempty"`
	Data        Report   `json:"data"`
	IsFirstView bool     `json:"isFirstView,omitempty"`
}

// NewEnvelope builds a first-view envelope for a freshly generated report
func NewEnvelope(report Report, now time.Time) StoredReportEnvelope {
	name := report.Recipe.Name
	if name == "" {
		name = UnknownRecipeName
	}
	return StoredReportEnvelope{
		ID:          report.ID,
		Name:        name,
		Description: report.Recipe.Description,
		Timestamp:   now.UnixMilli(),
		HealthScore: report.FitnessGoalAnalysis.HealthScore,
		Data:        report,
		IsFirstView: true,
	}
}

// StoredAt returns the envelope timestamp as a time.Time
func (e StoredReportEnvelope) StoredAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Compacted returns the envelope as it is kept after the first view:
// the large image is dropped and the first-view flag is cleared.
func (e StoredReportEnvelope) Compacted() StoredReportEnvelope {
	e.IsFirstView = false
	e.Data.ImageURL = ""
	return e
}
