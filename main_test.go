package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

// Test helper structures and types
type TestUser struct {
	ID       int
	Email    string
	Password string
	Token    string
}

type TestProfile struct {
	DisplayName  string
	BirthDate    string // YYYY-MM-DD
	Gender       string
	InterestedIn []string
	LookingFor   []string
	InterestTags []string
	Photos       []string
	LocationLat  *float64
	LocationLon  *float64
	Rating       int
}

func TestMain(m *testing.M) {
	connStr := os.Getenv("TEST_DATABASE_URL")
	if connStr == "" {
		connStr = "host=localhost port=5433 user=spark_user password=spark_password dbname=spark_test sslmode=disable"
	}

	var err error
	db, err = sql.Open("postgres", connStr)
	if err != nil {
		log.Fatal("Error connecting to the database:", err)
	}
	defer db.Close()

	if err := ensureSchema(db); err != nil {
		log.Fatal("Error creating test schema:", err)
	}
	ceilings = &tierResolver{db: db}

	m.Run()
}

func createTestUser(t *testing.T, email, password string) *TestUser {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	var id int
	err = db.QueryRow(
		"INSERT INTO users (email, password_hash, last_online) VALUES ($1, $2, NOW()) RETURNING id",
		email, string(hash),
	).Scan(&id)
	if err != nil {
		t.Fatalf("creating test user %s: %v", email, err)
	}

	token, err := issueToken(id)
	if err != nil {
		t.Fatalf("issuing token for %s: %v", email, err)
	}
	return &TestUser{ID: id, Email: email, Password: password, Token: token}
}

func getDefaultTestProfile() TestProfile {
	return TestProfile{
		DisplayName:  "Test User",
		BirthDate:    "1995-06-15",
		Gender:       "woman",
		InterestedIn: []string{},
		LookingFor:   []string{"relationship"},
		InterestTags: []string{"Music", "Travel"},
		Photos:       []string{"photo_1.jpg"},
	}
}

func createTestProfile(t *testing.T, user *TestUser, p TestProfile) {
	t.Helper()

	var birthDate *time.Time
	if p.BirthDate != "" {
		bd, err := time.Parse("2006-01-02", p.BirthDate)
		if err != nil {
			t.Fatalf("invalid test birth date %q: %v", p.BirthDate, err)
		}
		birthDate = &bd
	}
	isComplete := p.DisplayName != "" && birthDate != nil && p.Gender != ""

	interestedIn, _ := json.Marshal(emptyIfNil(p.InterestedIn))
	lookingFor, _ := json.Marshal(emptyIfNil(p.LookingFor))
	interestTags, _ := json.Marshal(emptyIfNil(p.InterestTags))
	photos, _ := json.Marshal(emptyIfNil(p.Photos))

	_, err := db.Exec(`
		INSERT INTO profiles (user_id, display_name, birth_date, gender,
			interested_in, looking_for, interest_tags, photos,
			location_lat, location_lon, rating, is_complete)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			birth_date = EXCLUDED.birth_date,
			gender = EXCLUDED.gender,
			interested_in = EXCLUDED.interested_in,
			looking_for = EXCLUDED.looking_for,
			interest_tags = EXCLUDED.interest_tags,
			photos = EXCLUDED.photos,
			location_lat = EXCLUDED.location_lat,
			location_lon = EXCLUDED.location_lon,
			rating = EXCLUDED.rating,
			is_complete = EXCLUDED.is_complete
	`, user.ID, p.DisplayName, birthDate, p.Gender,
		interestedIn, lookingFor, interestTags, photos,
		p.LocationLat, p.LocationLon, p.Rating, isComplete)
	if err != nil {
		t.Fatalf("creating test profile for user %d: %v", user.ID, err)
	}
}

// cleanupTestData removes users by email; everything else cascades.
func cleanupTestData(emails ...string) {
	for _, email := range emails {
		_, _ = db.Exec("DELETE FROM users WHERE email = $1", email)
	}
}

func floatPtr(v float64) *float64 { return &v }
