package behavior

import "unicode"

// qwertyNeighbors maps each key to the keys physically adjacent on a US
// QWERTY board. Fat-finger typos substitute one of these.
var qwertyNeighbors = map[rune]string{
	'1': "2q`", '2': "13wq", '3': "24we", '4': "35er", '5': "46rt", '6': "57ty",
	'7': "68yu", '8': "79ui", '9': "80io", '0': "9-op",
	'q': "wa1s", 'w': "qase23", 'e': "wsdr34", 'r': "edft45", 't': "rfgy56",
	'y': "tghu67", 'u': "yhji78", 'i': "ujko89", 'o': "iklp90", 'p': "ol;0-",
	'a': "qwsz", 's': "awedxz", 'd': "serfcx", 'f': "drtgvc", 'g': "ftyhbv",
	'h': "gyujnb", 'j': "huikmn", 'k': "jiol,m", 'l': "kop;.",
	'z': "asx", 'x': "zsdc", 'c': "xdfv", 'v': "cfgb", 'b': "vghn", 'n': "bhjm", 'm': "njk,",
}

// neighborKey picks a random adjacent key for r, preserving upper case most
// of the time since shift is usually still held during the slip. Returns
// false for keys with no mapped neighbors (space, punctuation outside the
// main block), which are then typed cleanly.
func (e *Engine) neighborKey(r rune) (rune, bool) {
	lower := unicode.ToLower(r)
	neighbors, ok := qwertyNeighbors[lower]
	if !ok || len(neighbors) == 0 {
		return 0, false
	}
	typo := rune(neighbors[e.rng.Intn(len(neighbors))])
	if unicode.IsUpper(r) && e.rng.Float64() < 0.8 {
		typo = unicode.ToUpper(typo)
	}
	return typo, true
}
