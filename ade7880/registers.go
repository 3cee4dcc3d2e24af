package ade7880

import "fmt"

// Register is a 16-bit ADE7880 register address.
type Register uint16

// DSP data memory RAM registers (datasheet Table 30).
const (
	AIGAIN  Register = 0x4380
	AVGAIN  Register = 0x4381
	BIGAIN  Register = 0x4382
	BVGAIN  Register = 0x4383
	CIGAIN  Register = 0x4384
	CVGAIN  Register = 0x4385
	NIGAIN  Register = 0x4386
	DICOEFF Register = 0x4388
	APGAIN  Register = 0x4389
	AWATTOS Register = 0x438A
	BPGAIN  Register = 0x438B
	BWATTOS Register = 0x438C
	CPGAIN  Register = 0x438D
	CWATTOS Register = 0x438E
	AIRMS   Register = 0x43C0
	AVRMS   Register = 0x43C1
	BIRMS   Register = 0x43C2
	BVRMS   Register = 0x43C3
	CIRMS   Register = 0x43C4
	CVRMS   Register = 0x43C5
	NIRMS   Register = 0x43C6
	ISUM    Register = 0x43C7
)

// Internal DSP, billable and configuration registers (datasheet Tables 31-33).
const (
	Run Register = 0xE228

	AWATTHR Register = 0xE400
	BWATTHR Register = 0xE401
	CWATTHR Register = 0xE402

	IPEAK    Register = 0xE500
	VPEAK    Register = 0xE501
	STATUS0  Register = 0xE502
	STATUS1  Register = 0xE503
	MASK0    Register = 0xE50A
	MASK1    Register = 0xE50B
	AWATT    Register = 0xE513
	BWATT    Register = 0xE514
	CWATT    Register = 0xE515
	AVA      Register = 0xE519
	BVA      Register = 0xE51A
	CVA      Register = 0xE51B
	CHECKSUM Register = 0xE51F

	PHSTATUS Register = 0xE600
	LINECYC  Register = 0xE60C
	ZXTOUT   Register = 0xE60D
	COMPMODE Register = 0xE60E
	Gain     Register = 0xE60F
	CFMODE   Register = 0xE610
	APHCAL   Register = 0xE614
	BPHCAL   Register = 0xE615
	CPHCAL   Register = 0xE616
	PHSIGN   Register = 0xE617
	CONFIG   Register = 0xE618

	MMODE     Register = 0xE700
	ACCMODE   Register = 0xE701
	LCYCMODE  Register = 0xE702
	Version   Register = 0xE707
	DSPWP_SET Register = 0xE7E3
	DSPWP_SEL Register = 0xE7FE

	HCONFIG  Register = 0xE900
	APF      Register = 0xE902
	BPF      Register = 0xE903
	CPF      Register = 0xE904
	APERIOD  Register = 0xE905
	BPERIOD  Register = 0xE906
	CPERIOD  Register = 0xE907
	LAST_ADD Register = 0xE9FE

	CONFIG3 Register = 0xEA00
	LAST_OP Register = 0xEA01

	LPOILVL Register = 0xEC00
	CONFIG2 Register = 0xEC01
)

// Register bit fields and values written during initialization.
const (
	status0LENERGY = 1 << 5  // end of line cycle energy accumulation
	status1RSTDONE = 1 << 15 // reset (software or power-on) completed

	mask0LENERGY = 1 << 5

	config2I2CLock = 1 << 1
	configSWRST    = 1 << 7

	// status1Clear acknowledges every pending STATUS1 flag after power on.
	status1Clear = 0x3FFE8930

	// TERMSEL1|TERMSEL2|TERMSEL3, angles between voltages and currents, SELFREQ for 60 Hz networks.
	compmode60Hz = 0x41FF

	lcycmodeLWATT  = 1 << 0
	lcycmodeZXSEL0 = 1 << 3

	dspwpSelect  = 0xAD
	dspwpProtect = 0x80

	runStart = 0x0201
)

// Operation codes reported through LAST_OP.
const (
	opWrite = 0xCA
	opRead  = 0x35
)

// widthByNibble maps bits 8..11 of a register address to its transfer width
// in bytes. Zero marks a nibble that no register uses.
var widthByNibble = [16]uint8{
	0x0: 1, 0x1: 2, 0x2: 2, 0x3: 4,
	0x4: 4, 0x5: 4, 0x6: 2, 0x7: 1,
	0x8: 4, 0x9: 2, 0xA: 1, 0xB: 1,
	0xC: 1, 0xD: 0, 0xE: 0, 0xF: 0,
}

// Width returns the number of bytes transferred when the register is read or
// written. It is 0 for addresses outside the register map.
func (r Register) Width() int {
	return int(widthByNibble[(r>>8)&0x0F])
}

var registerNames = map[Register]string{
	AIGAIN: "AIGAIN", AVGAIN: "AVGAIN", BIGAIN: "BIGAIN", BVGAIN: "BVGAIN",
	CIGAIN: "CIGAIN", CVGAIN: "CVGAIN", NIGAIN: "NIGAIN",
	APGAIN: "APGAIN", BPGAIN: "BPGAIN", CPGAIN: "CPGAIN",
	AIRMS: "AIRMS", AVRMS: "AVRMS", BIRMS: "BIRMS", BVRMS: "BVRMS",
	CIRMS: "CIRMS", CVRMS: "CVRMS", NIRMS: "NIRMS",
	Run:     "Run",
	AWATTHR: "AWATTHR", BWATTHR: "BWATTHR", CWATTHR: "CWATTHR",
	STATUS0: "STATUS0", STATUS1: "STATUS1", MASK0: "MASK0", MASK1: "MASK1",
	AWATT: "AWATT", BWATT: "BWATT", CWATT: "CWATT",
	AVA: "AVA", BVA: "BVA", CVA: "CVA",
	LINECYC: "LINECYC", COMPMODE: "COMPMODE", Gain: "Gain",
	APHCAL: "APHCAL", BPHCAL: "BPHCAL", CPHCAL: "CPHCAL", CONFIG: "CONFIG",
	LCYCMODE: "LCYCMODE", Version: "Version",
	DSPWP_SET: "DSPWP_SET", DSPWP_SEL: "DSPWP_SEL",
	APF: "APF", BPF: "BPF", CPF: "CPF",
	APERIOD: "APERIOD", BPERIOD: "BPERIOD", CPERIOD: "CPERIOD",
	LAST_ADD: "LAST_ADD", LAST_OP: "LAST_OP", CONFIG2: "CONFIG2",
}

func (r Register) String() string {
	if name, ok := registerNames[r]; ok {
		return name
	}
	return fmt.Sprintf("0x%04X", uint16(r))
}
