package detectors

// ruleWeights is the canonical weight table for every overlay rule. The
// explainer ranks reason candidates with it, so rule definitions must pull
// their weight from here rather than carrying a literal.
var ruleWeights = map[string]float64{
	// phishing
	RuleURLShortener:    0.9,
	RuleCallbackPhone:   0.85,
	RuleOTPShareRequest: 0.95,
	RuleUrgencyLanguage: 0.25,
	RuleMultipleURLs:    0.2,
	RuleObfuscatedText:  0.2,
	RuleShoutingMemo:    0.1,

	// quishing
	RuleQRPayeeMismatch:     0.95,
	RuleQRAmountMismatch:    0.9,
	RuleQRNonUPIScheme:      0.85,
	RuleQRIPHost:            0.85,
	RuleQRNonStandardParams: 0.2,
	RuleQRHighEntropy:       0.15,

	// collect
	RuleLargeAmountNewPayeeCollect: 0.9,
	RuleUnsolicitedCollect:         0.35,
	RuleMerchantKeywords:           0.3,
	RuleOffHoursCollect:            0.1,
	RuleHighValueCollect:           0.2,

	// malware
	RuleDebuggerAttached:      0.9,
	RuleSideloadAccessibility: 0.9,
	RuleScreenOverlay:         0.35,
	RuleSuspiciousApp:         0.3,
	RuleAccessibilityService:  0.15,
}

// RuleWeight returns the overlay weight of a rule token, 0 for unknown
// tokens (including the coordinator's reserved ones).
func RuleWeight(name string) float64 {
	return ruleWeights[name]
}
