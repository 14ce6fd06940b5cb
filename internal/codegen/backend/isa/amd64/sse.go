package amd64

type sseOpcode byte

const (
	sseOpcodeInvalid sseOpcode = iota
	sseOpcodeAddss
	sseOpcodeAddsd
	sseOpcodeAddps
	sseOpcodeAddpd
	sseOpcodeSubss
	sseOpcodeSubsd
	sseOpcodeSubps
	sseOpcodeSubpd
	sseOpcodeMulss
	sseOpcodeMulsd
	sseOpcodeMulps
	sseOpcodeMulpd
	sseOpcodeDivss
	sseOpcodeDivsd
	sseOpcodeDivps
	sseOpcodeDivpd
	sseOpcodeMinss
	sseOpcodeMinsd
	sseOpcodeMinps
	sseOpcodeMinpd
	sseOpcodeMaxss
	sseOpcodeMaxsd
	sseOpcodeMaxps
	sseOpcodeMaxpd
	sseOpcodeSqrtss
	sseOpcodeSqrtsd
	sseOpcodeSqrtps
	sseOpcodeSqrtpd
	sseOpcodeAndps
	sseOpcodeAndpd
	sseOpcodeAndnps
	sseOpcodeAndnpd
	sseOpcodeOrps
	sseOpcodeOrpd
	sseOpcodeXorps
	sseOpcodeXorpd
	sseOpcodeUcomiss
	sseOpcodeUcomisd
	sseOpcodeCvtss2sd
	sseOpcodeCvtsd2ss
	sseOpcodeCvtsi2ss
	sseOpcodeCvtsi2sd
	sseOpcodeCvttss2si
	sseOpcodeCvttsd2si
	sseOpcodeMovd
	sseOpcodeMovq
	sseOpcodeMovss
	sseOpcodeMovsd
	sseOpcodeMovdqu
	sseOpcodeMovaps
	sseOpcodeRoundss
	sseOpcodeRoundsd
	sseOpcodeRoundps
	sseOpcodeRoundpd
	sseOpcodePaddb
	sseOpcodePaddw
	sseOpcodePaddd
	sseOpcodePaddq
	sseOpcodePsubb
	sseOpcodePsubw
	sseOpcodePsubd
	sseOpcodePsubq
	sseOpcodePmullw
	sseOpcodePmulld
	sseOpcodePmuludq
	sseOpcodePand
	sseOpcodePandn
	sseOpcodePor
	sseOpcodePxor
	sseOpcodePcmpeqb
	sseOpcodePcmpeqw
	sseOpcodePcmpeqd
	sseOpcodePunpcklbw
	sseOpcodePunpckhbw
	sseOpcodePunpcklqdq
	sseOpcodePunpckhqdq
	sseOpcodePshufd
	sseOpcodePshuflw
	sseOpcodeShufps
	sseOpcodePackuswb
	sseOpcodePacksswb
	sseOpcodePsllw
	sseOpcodePslld
	sseOpcodePsllq
	sseOpcodePsrlw
	sseOpcodePsrld
	sseOpcodePsrlq
	sseOpcodePsraw
	sseOpcodePsrad
	sseOpcodePhaddw
	sseOpcodePhaddd
	sseOpcodePextrb
	sseOpcodePextrw
	sseOpcodePextrd
	sseOpcodePextrq
	sseOpcodePinsrb
	sseOpcodePinsrw
	sseOpcodePinsrd
	sseOpcodePinsrq
	sseOpcodeInsertps
	sseOpcodeMovlhps
	sseOpcodeCmpps
	sseOpcodeCmppd
	sseOpcodePcmpgtb
	sseOpcodePcmpgtw
	sseOpcodePcmpgtd
	sseOpcodePcmpeqq
	sseOpcodePminsb
	sseOpcodePminsw
	sseOpcodePminsd
	sseOpcodePmaxsb
	sseOpcodePmaxsw
	sseOpcodePmaxsd
	sseOpcodePminub
	sseOpcodePminuw
	sseOpcodePminud
	sseOpcodePmaxub
	sseOpcodePmaxuw
	sseOpcodePmaxud
	sseOpcodePabsb
	sseOpcodePabsw
	sseOpcodePabsd
	sseOpcodeCvtdq2ps
	sseOpcodeEnd
)

// sseInfo is the encoding of an sseOpcode in its load form: ModRM.reg is the xmm destination and ModRM.rm
// the source. The exceptions are noted in the encoder.
type sseInfo struct {
	name   string
	prefix legacyPrefixes
	opcode uint32
	n      uint32
	rexW   bool
	hasImm bool
	wrOnly bool
	// shiftOp and shiftExt encode the immediate form of the vector shifts.
	shiftOp  uint32
	shiftExt byte
}

var sseInfos = [sseOpcodeEnd]sseInfo{
	sseOpcodeAddss:      {name: "addss", prefix: legacyPrefixes0xF3, opcode: 0x0f58, n: 2},
	sseOpcodeAddsd:      {name: "addsd", prefix: legacyPrefixes0xF2, opcode: 0x0f58, n: 2},
	sseOpcodeAddps:      {name: "addps", opcode: 0x0f58, n: 2},
	sseOpcodeAddpd:      {name: "addpd", prefix: legacyPrefixes0x66, opcode: 0x0f58, n: 2},
	sseOpcodeSubss:      {name: "subss", prefix: legacyPrefixes0xF3, opcode: 0x0f5c, n: 2},
	sseOpcodeSubsd:      {name: "subsd", prefix: legacyPrefixes0xF2, opcode: 0x0f5c, n: 2},
	sseOpcodeSubps:      {name: "subps", opcode: 0x0f5c, n: 2},
	sseOpcodeSubpd:      {name: "subpd", prefix: legacyPrefixes0x66, opcode: 0x0f5c, n: 2},
	sseOpcodeMulss:      {name: "mulss", prefix: legacyPrefixes0xF3, opcode: 0x0f59, n: 2},
	sseOpcodeMulsd:      {name: "mulsd", prefix: legacyPrefixes0xF2, opcode: 0x0f59, n: 2},
	sseOpcodeMulps:      {name: "mulps", opcode: 0x0f59, n: 2},
	sseOpcodeMulpd:      {name: "mulpd", prefix: legacyPrefixes0x66, opcode: 0x0f59, n: 2},
	sseOpcodeDivss:      {name: "divss", prefix: legacyPrefixes0xF3, opcode: 0x0f5e, n: 2},
	sseOpcodeDivsd:      {name: "divsd", prefix: legacyPrefixes0xF2, opcode: 0x0f5e, n: 2},
	sseOpcodeDivps:      {name: "divps", opcode: 0x0f5e, n: 2},
	sseOpcodeDivpd:      {name: "divpd", prefix: legacyPrefixes0x66, opcode: 0x0f5e, n: 2},
	sseOpcodeMinss:      {name: "minss", prefix: legacyPrefixes0xF3, opcode: 0x0f5d, n: 2},
	sseOpcodeMinsd:      {name: "minsd", prefix: legacyPrefixes0xF2, opcode: 0x0f5d, n: 2},
	sseOpcodeMinps:      {name: "minps", opcode: 0x0f5d, n: 2},
	sseOpcodeMinpd:      {name: "minpd", prefix: legacyPrefixes0x66, opcode: 0x0f5d, n: 2},
	sseOpcodeMaxss:      {name: "maxss", prefix: legacyPrefixes0xF3, opcode: 0x0f5f, n: 2},
	sseOpcodeMaxsd:      {name: "maxsd", prefix: legacyPrefixes0xF2, opcode: 0x0f5f, n: 2},
	sseOpcodeMaxps:      {name: "maxps", opcode: 0x0f5f, n: 2},
	sseOpcodeMaxpd:      {name: "maxpd", prefix: legacyPrefixes0x66, opcode: 0x0f5f, n: 2},
	sseOpcodeSqrtss:     {name: "sqrtss", prefix: legacyPrefixes0xF3, opcode: 0x0f51, n: 2},
	sseOpcodeSqrtsd:     {name: "sqrtsd", prefix: legacyPrefixes0xF2, opcode: 0x0f51, n: 2},
	sseOpcodeSqrtps:     {name: "sqrtps", opcode: 0x0f51, n: 2},
	sseOpcodeSqrtpd:     {name: "sqrtpd", prefix: legacyPrefixes0x66, opcode: 0x0f51, n: 2},
	sseOpcodeAndps:      {name: "andps", opcode: 0x0f54, n: 2},
	sseOpcodeAndpd:      {name: "andpd", prefix: legacyPrefixes0x66, opcode: 0x0f54, n: 2},
	sseOpcodeAndnps:     {name: "andnps", opcode: 0x0f55, n: 2},
	sseOpcodeAndnpd:     {name: "andnpd", prefix: legacyPrefixes0x66, opcode: 0x0f55, n: 2},
	sseOpcodeOrps:       {name: "orps", opcode: 0x0f56, n: 2},
	sseOpcodeOrpd:       {name: "orpd", prefix: legacyPrefixes0x66, opcode: 0x0f56, n: 2},
	sseOpcodeXorps:      {name: "xorps", opcode: 0x0f57, n: 2},
	sseOpcodeXorpd:      {name: "xorpd", prefix: legacyPrefixes0x66, opcode: 0x0f57, n: 2},
	sseOpcodeUcomiss:    {name: "ucomiss", opcode: 0x0f2e, n: 2},
	sseOpcodeUcomisd:    {name: "ucomisd", prefix: legacyPrefixes0x66, opcode: 0x0f2e, n: 2},
	sseOpcodeCvtss2sd:   {name: "cvtss2sd", prefix: legacyPrefixes0xF3, opcode: 0x0f5a, n: 2},
	sseOpcodeCvtsd2ss:   {name: "cvtsd2ss", prefix: legacyPrefixes0xF2, opcode: 0x0f5a, n: 2},
	sseOpcodeCvtsi2ss:   {name: "cvtsi2ss", prefix: legacyPrefixes0xF3, opcode: 0x0f2a, n: 2},
	sseOpcodeCvtsi2sd:   {name: "cvtsi2sd", prefix: legacyPrefixes0xF2, opcode: 0x0f2a, n: 2},
	sseOpcodeCvttss2si:  {name: "cvttss2si", prefix: legacyPrefixes0xF3, opcode: 0x0f2c, n: 2},
	sseOpcodeCvttsd2si:  {name: "cvttsd2si", prefix: legacyPrefixes0xF2, opcode: 0x0f2c, n: 2},
	sseOpcodeMovd:       {name: "movd", prefix: legacyPrefixes0x66, opcode: 0x0f6e, n: 2},
	sseOpcodeMovq:       {name: "movq", prefix: legacyPrefixes0x66, opcode: 0x0f6e, n: 2, rexW: true},
	sseOpcodeMovss:      {name: "movss", prefix: legacyPrefixes0xF3, opcode: 0x0f10, n: 2},
	sseOpcodeMovsd:      {name: "movsd", prefix: legacyPrefixes0xF2, opcode: 0x0f10, n: 2},
	sseOpcodeMovdqu:     {name: "movdqu", prefix: legacyPrefixes0xF3, opcode: 0x0f6f, n: 2},
	sseOpcodeMovaps:     {name: "movaps", opcode: 0x0f28, n: 2},
	sseOpcodeRoundss:    {name: "roundss", prefix: legacyPrefixes0x66, opcode: 0x0f3a0a, n: 3, hasImm: true, wrOnly: true},
	sseOpcodeRoundsd:    {name: "roundsd", prefix: legacyPrefixes0x66, opcode: 0x0f3a0b, n: 3, hasImm: true, wrOnly: true},
	sseOpcodeRoundps:    {name: "roundps", prefix: legacyPrefixes0x66, opcode: 0x0f3a08, n: 3, hasImm: true, wrOnly: true},
	sseOpcodeRoundpd:    {name: "roundpd", prefix: legacyPrefixes0x66, opcode: 0x0f3a09, n: 3, hasImm: true, wrOnly: true},
	sseOpcodePaddb:      {name: "paddb", prefix: legacyPrefixes0x66, opcode: 0x0ffc, n: 2},
	sseOpcodePaddw:      {name: "paddw", prefix: legacyPrefixes0x66, opcode: 0x0ffd, n: 2},
	sseOpcodePaddd:      {name: "paddd", prefix: legacyPrefixes0x66, opcode: 0x0ffe, n: 2},
	sseOpcodePaddq:      {name: "paddq", prefix: legacyPrefixes0x66, opcode: 0x0fd4, n: 2},
	sseOpcodePsubb:      {name: "psubb", prefix: legacyPrefixes0x66, opcode: 0x0ff8, n: 2},
	sseOpcodePsubw:      {name: "psubw", prefix: legacyPrefixes0x66, opcode: 0x0ff9, n: 2},
	sseOpcodePsubd:      {name: "psubd", prefix: legacyPrefixes0x66, opcode: 0x0ffa, n: 2},
	sseOpcodePsubq:      {name: "psubq", prefix: legacyPrefixes0x66, opcode: 0x0ffb, n: 2},
	sseOpcodePmullw:     {name: "pmullw", prefix: legacyPrefixes0x66, opcode: 0x0fd5, n: 2},
	sseOpcodePmulld:     {name: "pmulld", prefix: legacyPrefixes0x66, opcode: 0x0f3840, n: 3},
	sseOpcodePmuludq:    {name: "pmuludq", prefix: legacyPrefixes0x66, opcode: 0x0ff4, n: 2},
	sseOpcodePand:       {name: "pand", prefix: legacyPrefixes0x66, opcode: 0x0fdb, n: 2},
	sseOpcodePandn:      {name: "pandn", prefix: legacyPrefixes0x66, opcode: 0x0fdf, n: 2},
	sseOpcodePor:        {name: "por", prefix: legacyPrefixes0x66, opcode: 0x0feb, n: 2},
	sseOpcodePxor:       {name: "pxor", prefix: legacyPrefixes0x66, opcode: 0x0fef, n: 2},
	sseOpcodePcmpeqb:    {name: "pcmpeqb", prefix: legacyPrefixes0x66, opcode: 0x0f74, n: 2},
	sseOpcodePcmpeqw:    {name: "pcmpeqw", prefix: legacyPrefixes0x66, opcode: 0x0f75, n: 2},
	sseOpcodePcmpeqd:    {name: "pcmpeqd", prefix: legacyPrefixes0x66, opcode: 0x0f76, n: 2},
	sseOpcodePunpcklbw:  {name: "punpcklbw", prefix: legacyPrefixes0x66, opcode: 0x0f60, n: 2},
	sseOpcodePunpckhbw:  {name: "punpckhbw", prefix: legacyPrefixes0x66, opcode: 0x0f68, n: 2},
	sseOpcodePunpcklqdq: {name: "punpcklqdq", prefix: legacyPrefixes0x66, opcode: 0x0f6c, n: 2},
	sseOpcodePunpckhqdq: {name: "punpckhqdq", prefix: legacyPrefixes0x66, opcode: 0x0f6d, n: 2},
	sseOpcodePshufd:     {name: "pshufd", prefix: legacyPrefixes0x66, opcode: 0x0f70, n: 2, hasImm: true, wrOnly: true},
	sseOpcodePshuflw:    {name: "pshuflw", prefix: legacyPrefixes0xF2, opcode: 0x0f70, n: 2, hasImm: true, wrOnly: true},
	sseOpcodeShufps:     {name: "shufps", opcode: 0x0fc6, n: 2, hasImm: true},
	sseOpcodePackuswb:   {name: "packuswb", prefix: legacyPrefixes0x66, opcode: 0x0f67, n: 2},
	sseOpcodePacksswb:   {name: "packsswb", prefix: legacyPrefixes0x66, opcode: 0x0f63, n: 2},
	sseOpcodePsllw:      {name: "psllw", prefix: legacyPrefixes0x66, opcode: 0x0ff1, n: 2, shiftOp: 0x0f71, shiftExt: 6},
	sseOpcodePslld:      {name: "pslld", prefix: legacyPrefixes0x66, opcode: 0x0ff2, n: 2, shiftOp: 0x0f72, shiftExt: 6},
	sseOpcodePsllq:      {name: "psllq", prefix: legacyPrefixes0x66, opcode: 0x0ff3, n: 2, shiftOp: 0x0f73, shiftExt: 6},
	sseOpcodePsrlw:      {name: "psrlw", prefix: legacyPrefixes0x66, opcode: 0x0fd1, n: 2, shiftOp: 0x0f71, shiftExt: 2},
	sseOpcodePsrld:      {name: "psrld", prefix: legacyPrefixes0x66, opcode: 0x0fd2, n: 2, shiftOp: 0x0f72, shiftExt: 2},
	sseOpcodePsrlq:      {name: "psrlq", prefix: legacyPrefixes0x66, opcode: 0x0fd3, n: 2, shiftOp: 0x0f73, shiftExt: 2},
	sseOpcodePsraw:      {name: "psraw", prefix: legacyPrefixes0x66, opcode: 0x0fe1, n: 2, shiftOp: 0x0f71, shiftExt: 4},
	sseOpcodePsrad:      {name: "psrad", prefix: legacyPrefixes0x66, opcode: 0x0fe2, n: 2, shiftOp: 0x0f72, shiftExt: 4},
	sseOpcodePhaddw:     {name: "phaddw", prefix: legacyPrefixes0x66, opcode: 0x0f3801, n: 3},
	sseOpcodePhaddd:     {name: "phaddd", prefix: legacyPrefixes0x66, opcode: 0x0f3802, n: 3},
	sseOpcodePextrb:     {name: "pextrb", prefix: legacyPrefixes0x66, opcode: 0x0f3a14, n: 3, hasImm: true},
	sseOpcodePextrw:     {name: "pextrw", prefix: legacyPrefixes0x66, opcode: 0x0fc5, n: 2, hasImm: true},
	sseOpcodePextrd:     {name: "pextrd", prefix: legacyPrefixes0x66, opcode: 0x0f3a16, n: 3, hasImm: true},
	sseOpcodePextrq:     {name: "pextrq", prefix: legacyPrefixes0x66, opcode: 0x0f3a16, n: 3, hasImm: true, rexW: true},
	sseOpcodePinsrb:     {name: "pinsrb", prefix: legacyPrefixes0x66, opcode: 0x0f3a20, n: 3, hasImm: true},
	sseOpcodePinsrw:     {name: "pinsrw", prefix: legacyPrefixes0x66, opcode: 0x0fc4, n: 2, hasImm: true},
	sseOpcodePinsrd:     {name: "pinsrd", prefix: legacyPrefixes0x66, opcode: 0x0f3a22, n: 3, hasImm: true},
	sseOpcodePinsrq:     {name: "pinsrq", prefix: legacyPrefixes0x66, opcode: 0x0f3a22, n: 3, hasImm: true, rexW: true},
	sseOpcodeInsertps:   {name: "insertps", prefix: legacyPrefixes0x66, opcode: 0x0f3a21, n: 3, hasImm: true},
	sseOpcodeMovlhps:    {name: "movlhps", opcode: 0x0f16, n: 2},
	sseOpcodeCmpps:      {name: "cmpps", opcode: 0x0fc2, n: 2, hasImm: true},
	sseOpcodeCmppd:      {name: "cmppd", prefix: legacyPrefixes0x66, opcode: 0x0fc2, n: 2, hasImm: true},
	sseOpcodePcmpgtb:    {name: "pcmpgtb", prefix: legacyPrefixes0x66, opcode: 0x0f64, n: 2},
	sseOpcodePcmpgtw:    {name: "pcmpgtw", prefix: legacyPrefixes0x66, opcode: 0x0f65, n: 2},
	sseOpcodePcmpgtd:    {name: "pcmpgtd", prefix: legacyPrefixes0x66, opcode: 0x0f66, n: 2},
	sseOpcodePcmpeqq:    {name: "pcmpeqq", prefix: legacyPrefixes0x66, opcode: 0x0f3829, n: 3},
	sseOpcodePminsb:     {name: "pminsb", prefix: legacyPrefixes0x66, opcode: 0x0f3838, n: 3},
	sseOpcodePminsw:     {name: "pminsw", prefix: legacyPrefixes0x66, opcode: 0x0fea, n: 2},
	sseOpcodePminsd:     {name: "pminsd", prefix: legacyPrefixes0x66, opcode: 0x0f3839, n: 3},
	sseOpcodePmaxsb:     {name: "pmaxsb", prefix: legacyPrefixes0x66, opcode: 0x0f383c, n: 3},
	sseOpcodePmaxsw:     {name: "pmaxsw", prefix: legacyPrefixes0x66, opcode: 0x0fee, n: 2},
	sseOpcodePmaxsd:     {name: "pmaxsd", prefix: legacyPrefixes0x66, opcode: 0x0f383d, n: 3},
	sseOpcodePminub:     {name: "pminub", prefix: legacyPrefixes0x66, opcode: 0x0fda, n: 2},
	sseOpcodePminuw:     {name: "pminuw", prefix: legacyPrefixes0x66, opcode: 0x0f383a, n: 3},
	sseOpcodePminud:     {name: "pminud", prefix: legacyPrefixes0x66, opcode: 0x0f383b, n: 3},
	sseOpcodePmaxub:     {name: "pmaxub", prefix: legacyPrefixes0x66, opcode: 0x0fde, n: 2},
	sseOpcodePmaxuw:     {name: "pmaxuw", prefix: legacyPrefixes0x66, opcode: 0x0f383e, n: 3},
	sseOpcodePmaxud:     {name: "pmaxud", prefix: legacyPrefixes0x66, opcode: 0x0f383f, n: 3},
	sseOpcodePabsb:      {name: "pabsb", prefix: legacyPrefixes0x66, opcode: 0x0f381c, n: 3},
	sseOpcodePabsw:      {name: "pabsw", prefix: legacyPrefixes0x66, opcode: 0x0f381d, n: 3},
	sseOpcodePabsd:      {name: "pabsd", prefix: legacyPrefixes0x66, opcode: 0x0f381e, n: 3},
	sseOpcodeCvtdq2ps:   {name: "cvtdq2ps", opcode: 0x0f5b, n: 2},
}

// String implements fmt.Stringer.
func (s sseOpcode) String() string {
	if s == sseOpcodeInvalid || s >= sseOpcodeEnd {
		panic("BUG: invalid sseOpcode")
	}
	return sseInfos[s].name
}

func (s sseOpcode) hasImm() bool { return sseInfos[s].hasImm }

// writesOnly is true if the destination is not an input of the instruction.
func (s sseOpcode) writesOnly() bool { return sseInfos[s].wrOnly }

// cmpps and cmppd predicates.
const (
	cmpPredEq    = 0
	cmpPredLt    = 1
	cmpPredLe    = 2
	cmpPredUnord = 3
	cmpPredNeq   = 4
	cmpPredOrd   = 7
)

// roundss immediates.
const (
	roundingNearest = 0
	roundingFloor   = 1
	roundingCeil    = 2
	roundingTrunc   = 3
)
