package geometry

import "gonum.org/v1/gonum/spatial/r3"

// Survey polyline of the drainage gallery in millimetres, before the shift
// into the collision-point frame.
var galleryVerticesMM = [][2]float64{
	{-86.57954338701529, 0.1882163986665546},
	{-1731.590867740335, 3.764327973349282},
	{-3549.761278867689, 7.716872345365118},
	{-5887.408950317142, 12.798715109387558},
	{-8053.403266181902, -504.23173203003535},
	{-10046.991360867298, -1282.5065405198511},
	{-11783.350377373874, -2930.9057600491833},
	{-12913.652590171332, -4580.622494369192},
	{-13095.344153684957, -7536.749251839814},
	{-13099.610392054752, -9015.000846973791},
	{-13278.792403586143, -11101.567842600896},
	{-13372.39869252341, -13536.146959364076},
	{-13292.093029091975, -15710.234580371536},
	{-12779.140603923677, -17972.21925955668},
	{-11659.12755425337, -19887.69754879509},
	{-10105.714877251532, -21630.204967658145},
	{-7512.845769209047, -23201.0590309365},
	{-5262.530506741277, -23466.820585854904},
	{-2751.72374851779, -23472.278861416264},
	{-241.41890069074725, -23651.64908934632},
	{1749.6596420124115, -23742.93404270002},
	{3827.568683300815, -23747.45123626804},
	{6078.6368113632525, -23752.344862633392},
	{8502.613071001502, -23844.570897980426},
	{11446.568501358292, -23764.01427935077},
	{13438.399909656131, -23594.431304151418},
	{15777.051401898476, -23251.689242178036},
	{18289.614846509525, -22648.455684448927},
	{20889.761655300477, -21697.58643838109},
	{23143.841245741598, -20659.00835053422},
	{25486.006110759066, -19098.88262197991},
	{27742.09334278597, -17364.656724658227},
	{28871.391734790544, -16062.763895075637},
	{30781.662703665817, -14153.873179790575},
	{32518.021720172394, -12505.473960261239},
	{34513.49197884447, -11075.029330388788},
	{36636.57295581305, -10427.47081077351},
	{38759.40297758341, -9866.868267342572},
	{41357.416667189485, -9655.12481884172},
	{43694.93886103982, -9703.684649697909},
	{46379.03018363646, -9666.041369964427},
	{49409.43967978114, -9629.150955825604},
	{51660.88424064092, -9503.610617914434},
	{54258.0195870532, -9596.213086058811},
	{57028.564975437745, -9602.236010816167},
	{59539.87364405768, -9433.782334008818},
	{62050.42944708294, -9526.196585754526},
}

const (
	galleryShiftXMM = -11908.8279764855
	galleryShiftYMM = 13591.106147774964
	galleryDepthM   = 22.0
)

// GalleryCenterline returns the drainage-gallery axis in metres, relative to
// the collision point.
func GalleryCenterline() []r3.Vec {
	out := make([]r3.Vec, len(galleryVerticesMM))
	for i, p := range galleryVerticesMM {
		out[i] = r3.Vec{
			X: (p[0] + galleryShiftXMM) / 1000.0,
			Y: (p[1] + galleryShiftYMM) / 1000.0,
			Z: galleryDepthM,
		}
	}
	return out
}
