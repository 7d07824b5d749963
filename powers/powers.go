// Package powers is the power-up catalog and the server-side damage engine.
// Every click's damage is computed here, never trusted from the client.
package powers

import "math/rand"

// Power describes one selectable power-up.
type Power struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Desc string `json:"desc"`
}

const (
	DoubleImpact   = "double_impact"
	RafaleInstable = "rafale_instable"
	Bombe          = "bombe"
	Retardement    = "retardement"
	ChanceCritique = "chance_critique"
	FurieCyclique  = "furie_cyclique"
)

// Default is used when a player holds neither a committed power nor offers.
const Default = DoubleImpact

// OfferSize is how many distinct powers each player is offered at match start.
const OfferSize = 3

// CritChance is the critical probability of chance_critique.
const CritChance = 0.08

// BombDamage is the payout of bombe every 50th click.
const BombDamage = 65

// Catalog lists every selectable power, in a stable order.
var Catalog = []Power{
	{ID: DoubleImpact, Name: "Double Impact", Desc: "Chaque clic inflige 2 degats"},
	{ID: RafaleInstable, Name: "Rafale Instable", Desc: "Chaque clic inflige entre 0 et 5 degats aleatoires"},
	{ID: Bombe, Name: "Bombe", Desc: "Tous les 50 clics, explosion de 65 degats"},
	{ID: Retardement, Name: "Retardement", Desc: "x4 degats apres 60% du temps ecoule"},
	{ID: ChanceCritique, Name: "Chance Critique", Desc: "8% de chance d'infliger 15 degats"},
	{ID: FurieCyclique, Name: "Furie Cyclique", Desc: "Degats en boucle : -1, 0, 1, 2, 3, 4, 5"},
}

var furieCycle = [...]int{-1, 0, 1, 2, 3, 4, 5}

// IsKnown reports whether powerID is in the catalog.
func IsKnown(powerID string) bool {
	for _, p := range Catalog {
		if p.ID == powerID {
			return true
		}
	}
	return false
}

// Damage computes the damage of one accepted click. clickCount is the
// post-increment click count for the player this match (first click is 1).
// progress is elapsed PLAYING time over total PLAYING time, clamped to [0,1].
// Unknown power ids deal 1.
func Damage(powerID string, clickCount int64, progress float64) int {
	switch powerID {
	case DoubleImpact:
		return 2
	case RafaleInstable:
		return rand.Intn(6)
	case Bombe:
		if clickCount > 0 && clickCount%50 == 0 {
			return BombDamage
		}
		return 1
	case Retardement:
		if progress >= 0.6 {
			return 4
		}
		return 1
	case ChanceCritique:
		if rand.Float64() < CritChance {
			return 15
		}
		return 1
	case FurieCyclique:
		idx := (clickCount - 1) % int64(len(furieCycle))
		if idx < 0 {
			idx += int64(len(furieCycle))
		}
		return furieCycle[idx]
	default:
		return 1
	}
}

// DrawOffers samples count distinct power ids uniformly without replacement.
// count is capped at the catalog size.
func DrawOffers(count int) []string {
	ids := make([]string, len(Catalog))
	for i, p := range Catalog {
		ids[i] = p.ID
	}
	rand.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})
	if count > len(ids) {
		count = len(ids)
	}
	return ids[:count]
}
