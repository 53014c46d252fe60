package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reSmokingMention = regexp.MustCompile(`(?i)吸菸|抽菸|smok`)
	reSmokingCurrent = regexp.MustCompile(`(?i)(?:吸菸|抽菸)\s*:\s*(?:是|有)|\bsmoking\s*:\s*(?:yes|current)\b|current\s+smoker|正在吸菸`)
	reSmokingNever   = regexp.MustCompile(`(?i)(?:吸菸|抽菸)\s*:\s*(?:否|無)|\bsmoking\s*:\s*(?:no|never)\b|never\s+smoked|non-?smoker|從不吸菸`)
	reSmokingFormer  = regexp.MustCompile(`(?i)former\s+smoker|ex-smoker|曾經吸菸|戒菸`)

	activityRules = []*regexp.Regexp{
		regexp.MustCompile(`(?im)運動\s*:\s*([^\n]+)$`),
		regexp.MustCompile(`(?im)\bexercise\s*:\s*([^\n]+)$`),
		regexp.MustCompile(`(?im)\bphysical\s+activity\s*:\s*([^\n]+)$`),
	}
	reActivityCount = regexp.MustCompile(`(?i)(\d+)\s*(?:次|times?\b)`)
	reWeekly        = regexp.MustCompile(`(?i)週|周|星期|week`)
	reMonthly       = regexp.MustCompile(`(?i)月|month`)
	reDaily         = regexp.MustCompile(`(?i)天|每日|day`)

	reAlcoholMention = regexp.MustCompile(`(?i)飲酒|喝酒|alcohol|drinks?\b|drinker`)
	reAlcoholAmount  = regexp.MustCompile(`(?i)飲酒量?\s*:\s*` + num + `\s*(?:杯|盞|次|drinks?)?|\balcohol\s*:\s*` + num + `|\bdrinks?\s+per\s+week\s*:\s*` + num)
	reAlcoholYes     = regexp.MustCompile(`(?i)(?:飲酒|喝酒)\s*:\s*(?:是|有)|\b(?:drinks?|alcohol)\s*:\s*yes\b|regular\s+drinker`)
	reAlcoholNo      = regexp.MustCompile(`(?i)(?:飲酒|喝酒)\s*:\s*(?:否|無)|\b(?:drinks?|alcohol)\s*:\s*no\b|non-?drinker`)
)

// extractLifestyle reads smoking status, exercise habits and alcohol use.
func extractLifestyle(text string) map[string]any {
	out := map[string]any{}

	if reSmokingMention.MatchString(text) {
		switch {
		case reSmokingCurrent.MatchString(text):
			out["smoking_status"] = "current"
		case reSmokingNever.MatchString(text):
			out["smoking_status"] = "never"
		case reSmokingFormer.MatchString(text):
			out["smoking_status"] = "former"
		}
	}

	for _, re := range activityRules {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		desc := strings.TrimSpace(m[1])
		if c := reActivityCount.FindStringSubmatch(desc); c != nil {
			if n, err := strconv.Atoi(c[1]); err == nil {
				out["exercise_frequency"] = n
			}
		}
		switch {
		case reWeekly.MatchString(desc):
			out["exercise_period"] = "weekly"
		case reMonthly.MatchString(desc):
			out["exercise_period"] = "monthly"
		case reDaily.MatchString(desc):
			out["exercise_period"] = "daily"
		}
		out["exercise_description"] = desc
		break
	}

	if reAlcoholMention.MatchString(text) {
		if m := reAlcoholAmount.FindStringSubmatch(text); m != nil {
			for _, g := range m[1:] {
				if g == "" {
					continue
				}
				if v, err := strconv.ParseFloat(g, 64); err == nil {
					out["drinks_per_week"] = v
				}
				break
			}
		}
		switch {
		case reAlcoholYes.MatchString(text):
			out["alcohol_consumption"] = "yes"
		case reAlcoholNo.MatchString(text):
			out["alcohol_consumption"] = "no"
		}
	}
	return out
}
