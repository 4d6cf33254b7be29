package engine

import "math"

const earthRadiusM = 6371000

// haversineM returns the great-circle distance in metres between two
// coordinates.
func haversineM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// estimateDistanceM converts RSSI to an estimated distance in metres using a
// log-distance path loss model with a -69 dBm reference at 1 m. Informational
// only; never drives a flag.
func estimateDistanceM(rssi int) float64 {
	return math.Pow(10, float64(-69-rssi)/20)
}
