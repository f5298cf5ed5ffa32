package common

// Distances are in meters, elevations in meters above sea level.

const EarthRadius = 6378137.0 // orb/geo.EarthRadius, WGS84 semi-major axis

const ElevationOfEverest = 8848.0
const ElevationOfDeadSea = -430.0

const MetersPerKilometer = 1000.0
