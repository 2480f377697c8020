package main

import (
	"math"
	"sort"
	"strings"
	"time"
)

// rankCandidates filters and orders raw candidates for a requester's feed.
// It is a pure function: same inputs always produce the same ordering.
// history holds every user the requester has already decided on.
// Malformed bounds (minAge > maxAge) yield an empty feed, never an error.
func rankCandidates(requester Profile, history map[int]struct{}, candidates []Profile, filters Filters, now time.Time) []RankedCandidate {
	if filters.MinAge > filters.MaxAge {
		return []RankedCandidate{}
	}

	genderFilter := make(map[string]struct{}, len(filters.InterestedIn))
	for _, g := range filters.InterestedIn {
		genderFilter[strings.ToLower(g)] = struct{}{}
	}

	ranked := make([]RankedCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.UserID == requester.UserID {
			continue
		}
		// Already decided, or blocked in either direction
		if _, seen := history[c.UserID]; seen {
			continue
		}
		if _, blocked := requester.Blocked[c.UserID]; blocked {
			continue
		}
		if _, blocked := c.Blocked[requester.UserID]; blocked {
			continue
		}
		// Age gating requires a birth date
		age := c.Age(now)
		if age < 0 || age < filters.MinAge || age > filters.MaxAge {
			continue
		}
		if len(genderFilter) > 0 {
			if _, ok := genderFilter[strings.ToLower(c.Gender)]; !ok {
				continue
			}
		}

		// Distance only disqualifies when both sides have a coordinate.
		distance := 0.0
		if requester.LocationLat != nil && requester.LocationLon != nil &&
			c.LocationLat != nil && c.LocationLon != nil {
			distance = roundOneDecimal(haversine(
				*requester.LocationLat, *requester.LocationLon,
				*c.LocationLat, *c.LocationLon))
			if distance > filters.MaxDistanceKm {
				continue
			}
		}

		ranked = append(ranked, RankedCandidate{
			Profile:    c,
			Score:      compatibilityScore(requester.InterestTags, c.InterestTags),
			DistanceKm: distance,
		})
	}

	// Stable so that store order breaks remaining ties deterministically.
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Rating != ranked[j].Rating {
			return ranked[i].Rating > ranked[j].Rating
		}
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].DistanceKm < ranked[j].DistanceKm
	})
	return ranked
}

// compatibilityScore is |shared| / max(|a|,|b|) * 100 rounded to the nearest
// integer, with tags compared case-insensitively. Zero when either set is empty.
func compatibilityScore(requesterTags, candidateTags []string) int {
	if len(requesterTags) == 0 || len(candidateTags) == 0 {
		return 0
	}

	requesterSet := make(map[string]struct{}, len(requesterTags))
	for _, tag := range requesterTags {
		requesterSet[strings.ToLower(tag)] = struct{}{}
	}

	shared := 0
	seen := make(map[string]struct{}, len(candidateTags))
	for _, tag := range candidateTags {
		lower := strings.ToLower(tag)
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		if _, ok := requesterSet[lower]; ok {
			shared++
		}
	}

	larger := len(requesterSet)
	if len(seen) > larger {
		larger = len(seen)
	}
	return int(math.Round(float64(shared) / float64(larger) * 100))
}

// Haversine formula for distance in km
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371 // Earth radius in km
	dLat := (lat2 - lat1) * (math.Pi / 180)
	dLon := (lon2 - lon1) * (math.Pi / 180)
	lat1 = lat1 * (math.Pi / 180)
	lat2 = lat2 * (math.Pi / 180)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1)*math.Cos(lat2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

func roundOneDecimal(v float64) float64 {
	return math.Round(v*10) / 10
}
