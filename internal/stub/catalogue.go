package stub

import (
	"github.com/fitness-team/fitload/internal/loadtest/scenario"
)

var moves = map[string][]scenario.Move{
	"novice": {
		{ID: "m-101", Name: "Bodyweight Squat", ModelURL: "/models/squat.glb", ScoringConfig: map[string]interface{}{"kneeAngle": 90, "tolerance": 15}},
		{ID: "m-102", Name: "Wall Push-up", ModelURL: "/models/wall-push-up.glb"},
		{ID: "m-103", Name: "Glute Bridge", ModelURL: "/models/glute-bridge.glb"},
	},
	"skilled": {
		{ID: "m-201", Name: "Push-up", ModelURL: "/models/push-up.glb", ScoringConfig: map[string]interface{}{"elbowAngle": 90, "tolerance": 10}},
		{ID: "m-202", Name: "Reverse Lunge", ModelURL: "/models/lunge.glb"},
	},
	"expert": {
		{ID: "m-301", Name: "Pistol Squat", ModelURL: "/models/pistol-squat.glb", ScoringConfig: map[string]interface{}{"kneeAngle": 70, "tolerance": 5}},
		{ID: "m-302", Name: "Burpee", ModelURL: "/models/burpee.glb"},
	},
}

var sessions = map[string][]scenario.Session{
	"novice": {
		{ID: "s-101", Name: "First Steps", Difficulty: "novice", Duration: 15, CoverURL: "/covers/first-steps.jpg"},
		{ID: "s-102", Name: "Morning Mobility", Difficulty: "novice", Duration: 10, CoverURL: "/covers/mobility.jpg"},
	},
	"skilled": {
		{ID: "s-201", Name: "Full Body Builder", Difficulty: "skilled", Duration: 30, CoverURL: "/covers/full-body.jpg"},
	},
	"expert": {
		{ID: "s-301", Name: "Power Circuit", Difficulty: "expert", Duration: 45, CoverURL: "/covers/power.jpg"},
	},
}

// LibraryFor returns the catalogue filtered by difficulty. Unknown levels
// get empty lists, never nulls.
func LibraryFor(difficulty string) scenario.Library {
	lib := scenario.Library{
		Moves:    append([]scenario.Move{}, moves[difficulty]...),
		Sessions: make([]scenario.Session, 0, len(sessions[difficulty])),
	}
	for _, s := range sessions[difficulty] {
		s.Moves = append([]scenario.Move{}, moves[difficulty]...)
		lib.Sessions = append(lib.Sessions, s)
	}
	return lib
}
