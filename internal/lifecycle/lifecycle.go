// Package lifecycle описывает статусы ребёнка в течение дня: закрытый набор значений,
// группы "в автобусе"/"высажен" и таблицу допустимых переходов.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/Spok95/school-transport/internal/models"
)

var ErrUnknownStatus = errors.New("unknown student status")

type info struct {
	label   string
	icon    string
	phrase  string // "… has been picked up"
	pickup  bool
	dropoff bool
}

var statuses = map[models.StudentStatus]info{
	models.StatusAtHome:            {label: "At Home", icon: "🏠", phrase: "is now at home"},
	models.StatusPickedUp:          {label: "Picked Up", icon: "🚌", phrase: "has been picked up", pickup: true},
	models.StatusInTransitToSchool: {label: "Going to School", icon: "🚛", phrase: "is on the way to school", pickup: true},
	models.StatusDroppedAtSchool:   {label: "At School", icon: "🏫", phrase: "has arrived at school", dropoff: true},
	models.StatusInTransitToHome:   {label: "Going Home", icon: "🔄", phrase: "is on the way home", pickup: true},
	models.StatusDroppedAtHome:     {label: "Dropped at Home", icon: "✅", phrase: "has been dropped at home", dropoff: true},

	models.StatusWaitingPickup: {label: "Waiting for Pickup", icon: "⏰", phrase: "is waiting for pickup"},
	models.StatusInTransit:     {label: "In Transit", icon: "🚛", phrase: "is in transit", pickup: true},
	models.StatusAtSchool:      {label: "At School", icon: "🏫", phrase: "has arrived at school", dropoff: true},
	models.StatusReturning:     {label: "Returning Home", icon: "🔄", phrase: "is returning home", pickup: true},
	models.StatusDroppedOff:    {label: "Dropped Off", icon: "✅", phrase: "has been dropped off", dropoff: true},
}

// All: статусы в порядке дневного цикла (основной набор, затем расширенный).
var All = []models.StudentStatus{
	models.StatusAtHome,
	models.StatusPickedUp,
	models.StatusInTransitToSchool,
	models.StatusDroppedAtSchool,
	models.StatusInTransitToHome,
	models.StatusDroppedAtHome,
	models.StatusWaitingPickup,
	models.StatusInTransit,
	models.StatusAtSchool,
	models.StatusReturning,
	models.StatusDroppedOff,
}

// transitions: допустимые переходы. Переход в тот же статус допустим всегда.
var transitions = map[models.StudentStatus][]models.StudentStatus{
	models.StatusAtHome:            {models.StatusPickedUp, models.StatusWaitingPickup},
	models.StatusPickedUp:          {models.StatusInTransitToSchool, models.StatusInTransit, models.StatusDroppedAtSchool, models.StatusAtSchool, models.StatusAtHome},
	models.StatusInTransitToSchool: {models.StatusDroppedAtSchool, models.StatusAtSchool},
	models.StatusDroppedAtSchool:   {models.StatusInTransitToHome, models.StatusReturning},
	models.StatusInTransitToHome:   {models.StatusDroppedAtHome, models.StatusDroppedOff},
	models.StatusDroppedAtHome:     {models.StatusAtHome, models.StatusWaitingPickup, models.StatusPickedUp},

	models.StatusWaitingPickup: {models.StatusPickedUp, models.StatusAtHome},
	models.StatusInTransit:     {models.StatusAtSchool, models.StatusDroppedAtSchool},
	models.StatusAtSchool:      {models.StatusReturning, models.StatusInTransitToHome},
	models.StatusReturning:     {models.StatusDroppedOff, models.StatusDroppedAtHome},
	models.StatusDroppedOff:    {models.StatusAtHome, models.StatusWaitingPickup, models.StatusPickedUp},
}

func Valid(s models.StudentStatus) bool {
	_, ok := statuses[s]
	return ok
}

func Parse(s string) (models.StudentStatus, error) {
	st := models.StudentStatus(s)
	if !Valid(st) {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

func IsPickup(s models.StudentStatus) bool  { return statuses[s].pickup }
func IsDropoff(s models.StudentStatus) bool { return statuses[s].dropoff }

// CanTransition сообщает, есть ли переход from → to в таблице.
// Пустой from (статус ещё не выставлялся) трактуется как at-home.
func CanTransition(from, to models.StudentStatus) bool {
	if !Valid(to) {
		return false
	}
	if from == "" {
		from = models.StatusAtHome
	}
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Next: статусы, в которые можно перейти из текущего.
func Next(from models.StudentStatus) []models.StudentStatus {
	if from == "" {
		from = models.StatusAtHome
	}
	out := make([]models.StudentStatus, len(transitions[from]))
	copy(out, transitions[from])
	return out
}

func Label(s models.StudentStatus) string {
	if i, ok := statuses[s]; ok {
		return i.label
	}
	return string(s)
}

func Icon(s models.StudentStatus) string {
	if i, ok := statuses[s]; ok {
		return i.icon
	}
	return "📍"
}

// Describe: фраза для уведомления родителю.
func Describe(childName string, s models.StudentStatus) string {
	if i, ok := statuses[s]; ok {
		return childName + " " + i.phrase
	}
	return childName + " status updated"
}

// ChangeText: "Имя status changed: At Home 🏠 → Picked Up 🚌".
func ChangeText(childName string, from, to models.StudentStatus) string {
	return fmt.Sprintf("%s status changed: %s %s → %s %s",
		childName, Label(from), Icon(from), Label(to), Icon(to))
}
