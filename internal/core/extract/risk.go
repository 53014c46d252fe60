package extract

import (
	"github.com/joseph-ayodele/health-reports/constants"
)

// RiskFunc maps a measured value to a clinical risk band. Every RiskFunc is
// total; a boundary value falls into the band that starts at it.
type RiskFunc func(value float64) constants.RiskLevel

func AssessCholesterol(v float64) constants.RiskLevel {
	switch {
	case v < 200:
		return constants.RiskNormal
	case v < 240:
		return constants.RiskBorderline
	default:
		return constants.RiskHigh
	}
}

func AssessLDL(v float64) constants.RiskLevel {
	switch {
	case v < 100:
		return constants.RiskNormal
	case v < 130:
		return constants.RiskBorderline
	case v < 160:
		return constants.RiskBorderlineHigh
	default:
		return constants.RiskHigh
	}
}

// AssessHDL is inverted: higher values are better.
func AssessHDL(v float64) constants.RiskLevel {
	switch {
	case v >= 60:
		return constants.RiskNormal
	case v >= 40:
		return constants.RiskBorderline
	default:
		return constants.RiskHigh
	}
}

func AssessTriglycerides(v float64) constants.RiskLevel {
	switch {
	case v < 150:
		return constants.RiskNormal
	case v < 200:
		return constants.RiskBorderline
	default:
		return constants.RiskHigh
	}
}

func AssessSystolic(v float64) constants.RiskLevel {
	switch {
	case v < 120:
		return constants.RiskNormal
	case v < 130:
		return constants.RiskElevated
	case v < 140:
		return constants.RiskStage1
	default:
		return constants.RiskHigh
	}
}

func AssessDiastolic(v float64) constants.RiskLevel {
	switch {
	case v < 80:
		return constants.RiskNormal
	case v < 90:
		return constants.RiskStage1
	default:
		return constants.RiskHigh
	}
}

func AssessFastingGlucose(v float64) constants.RiskLevel {
	switch {
	case v < 100:
		return constants.RiskNormal
	case v < 126:
		return constants.RiskBorderline
	default:
		return constants.RiskHigh
	}
}

func AssessHbA1c(v float64) constants.RiskLevel {
	switch {
	case v < 5.7:
		return constants.RiskNormal
	case v < 6.5:
		return constants.RiskBorderline
	default:
		return constants.RiskHigh
	}
}

// AssessWaist uses the Asian reference without sex adjustment.
func AssessWaist(v float64) constants.RiskLevel {
	switch {
	case v < 80:
		return constants.RiskNormal
	case v < 90:
		return constants.RiskBorderline
	default:
		return constants.RiskHigh
	}
}

func assessUnknown(float64) constants.RiskLevel { return constants.RiskUnknown }
